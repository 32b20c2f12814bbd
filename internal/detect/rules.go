package detect

import "tagforge/internal/tags"

// Rule contributes Weight towards Tag when its condition holds. Exactly one
// condition family should be set:
//
//   - Files: any scanned file whose path (when the pattern has a slash) or
//     base name matches one of the globs
//   - Dirs: any scanned directory whose path or base name matches
//   - File + Contains: File exists at the root and holds one of the needles
//   - Keywords: the description mentions one of the words or phrases
type Rule struct {
	Tag      tags.Tag
	Weight   float64
	Files    []string
	Dirs     []string
	File     string
	Contains []string
	Keywords []string
}

// DefaultRules is the built-in rule set.
func DefaultRules() []Rule {
	return []Rule{
		// frontend
		{Tag: tags.Frontend, Weight: 0.5, File: "package.json", Contains: []string{`"react"`, `"vue"`, `"svelte"`, `"@angular/core"`, `"next"`}},
		{Tag: tags.Frontend, Weight: 0.3, Files: []string{"*.tsx", "*.jsx", "*.vue", "*.svelte"}},
		{Tag: tags.Frontend, Weight: 0.4, Keywords: []string{"frontend", "front-end", "web app", "single page", "user interface", "react", "dashboard"}},

		// backend
		{Tag: tags.Backend, Weight: 0.4, File: "go.mod", Contains: []string{"gin-gonic/gin", "gorilla/mux", "go-chi/chi", "labstack/echo", "gofiber/fiber", "google.golang.org/grpc"}},
		{Tag: tags.Backend, Weight: 0.4, File: "package.json", Contains: []string{`"express"`, `"fastify"`, `"koa"`, `"@nestjs/core"`}},
		{Tag: tags.Backend, Weight: 0.5, Files: []string{"manage.py", "application.properties", "application.yml"}},
		{Tag: tags.Backend, Weight: 0.4, Keywords: []string{"backend", "back-end", "server", "microservice", "service"}},

		// api
		{Tag: tags.API, Weight: 0.6, Files: []string{"openapi.yaml", "openapi.yml", "openapi.json", "swagger.yaml", "swagger.json"}},
		{Tag: tags.API, Weight: 0.4, Files: []string{"*.proto", "*.graphql"}},
		{Tag: tags.API, Weight: 0.2, Dirs: []string{"routes", "handlers", "api"}},
		{Tag: tags.API, Weight: 0.4, Keywords: []string{"api", "rest", "grpc", "graphql", "endpoint", "endpoints", "webhook"}},

		// cli
		{Tag: tags.CLI, Weight: 0.4, Dirs: []string{"cmd"}},
		{Tag: tags.CLI, Weight: 0.4, File: "go.mod", Contains: []string{"spf13/cobra", "urfave/cli", "alecthomas/kong"}},
		{Tag: tags.CLI, Weight: 0.4, File: "package.json", Contains: []string{`"bin"`, `"commander"`, `"yargs"`}},
		{Tag: tags.CLI, Weight: 0.4, File: "pyproject.toml", Contains: []string{"[project.scripts]", "click", "typer"}},
		{Tag: tags.CLI, Weight: 0.4, Keywords: []string{"cli", "command-line", "command line", "terminal tool"}},

		// library
		{Tag: tags.Library, Weight: 0.5, File: "Cargo.toml", Contains: []string{"[lib]"}},
		{Tag: tags.Library, Weight: 0.2, Files: []string{"setup.py", "setup.cfg", "*.gemspec"}},
		{Tag: tags.Library, Weight: 0.4, Keywords: []string{"library", "sdk", "package", "module"}},

		// mobile
		{Tag: tags.Mobile, Weight: 0.6, Files: []string{"pubspec.yaml", "AndroidManifest.xml", "Podfile"}},
		{Tag: tags.Mobile, Weight: 0.5, Dirs: []string{"android", "ios", "*.xcodeproj"}},
		{Tag: tags.Mobile, Weight: 0.6, File: "package.json", Contains: []string{`"react-native"`, `"expo"`, `"@ionic/core"`}},
		{Tag: tags.Mobile, Weight: 0.4, Keywords: []string{"mobile", "ios", "android", "flutter", "app store"}},

		// data
		{Tag: tags.Data, Weight: 0.6, Files: []string{"dbt_project.yml", "airflow.cfg"}},
		{Tag: tags.Data, Weight: 0.3, Files: []string{"*.sql", "*.parquet"}},
		{Tag: tags.Data, Weight: 0.2, Files: []string{"*.ipynb"}},
		{Tag: tags.Data, Weight: 0.4, Keywords: []string{"data pipeline", "etl", "analytics", "warehouse", "data engineering"}},

		// ml
		{Tag: tags.ML, Weight: 0.6, File: "requirements.txt", Contains: []string{"torch", "tensorflow", "scikit-learn", "transformers", "xgboost"}},
		{Tag: tags.ML, Weight: 0.6, File: "pyproject.toml", Contains: []string{"torch", "tensorflow", "scikit-learn", "transformers"}},
		{Tag: tags.ML, Weight: 0.2, Files: []string{"*.ipynb", "*.onnx", "*.pt"}},
		{Tag: tags.ML, Weight: 0.4, Keywords: []string{"machine learning", "ml", "model training", "neural", "inference", "llm"}},

		// devops
		{Tag: tags.DevOps, Weight: 0.4, Files: []string{"Dockerfile", "Containerfile"}},
		{Tag: tags.DevOps, Weight: 0.3, Files: []string{"docker-compose.yml", "docker-compose.yaml", "compose.yaml", ".gitlab-ci.yml", "Jenkinsfile"}},
		{Tag: tags.DevOps, Weight: 0.3, Dirs: []string{".github/workflows", ".circleci"}},
		{Tag: tags.DevOps, Weight: 0.3, Keywords: []string{"devops", "ci", "cd", "deployment", "release pipeline"}},

		// infrastructure
		{Tag: tags.Infrastructure, Weight: 0.6, Files: []string{"*.tf", "*.tfvars", "Pulumi.yaml"}},
		{Tag: tags.Infrastructure, Weight: 0.5, Files: []string{"Chart.yaml", "kustomization.yaml", "ansible.cfg"}},
		{Tag: tags.Infrastructure, Weight: 0.4, Keywords: []string{"infrastructure", "terraform", "kubernetes", "k8s", "cloud"}},

		// security
		{Tag: tags.Security, Weight: 0.2, Files: []string{"SECURITY.md", ".snyk", ".trivyignore"}},
		{Tag: tags.Security, Weight: 0.4, Keywords: []string{"security", "authentication", "authorization", "compliance", "encryption", "audit"}},

		// game
		{Tag: tags.Game, Weight: 0.7, Files: []string{"project.godot", "*.uproject"}},
		{Tag: tags.Game, Weight: 0.6, Dirs: []string{"ProjectSettings", "Assets"}},
		{Tag: tags.Game, Weight: 0.6, File: "go.mod", Contains: []string{"hajimehoshi/ebiten"}},
		{Tag: tags.Game, Weight: 0.5, Keywords: []string{"game", "gameplay", "game engine"}},

		// embedded
		{Tag: tags.Embedded, Weight: 0.7, Files: []string{"platformio.ini", "*.ino"}},
		{Tag: tags.Embedded, Weight: 0.5, File: "CMakeLists.txt", Contains: []string{"arm-none-eabi", "CMAKE_SYSTEM_PROCESSOR"}},
		{Tag: tags.Embedded, Weight: 0.5, Keywords: []string{"embedded", "firmware", "microcontroller", "rtos"}},
	}
}
