package fragment

// mergeInto folds src into dst. For every fragment kind, fragments whose
// identity already exists in dst are dropped and reported through shadowed;
// new identities are appended in src order. A structure template in src
// replaces dst's template.
//
// dst is always a set owned by the caller's in-progress build, never a set
// reachable from a finished Store.
func mergeInto(dst, src *Set, source string, shadowed func(Shadow)) {
	report := func(kind Kind) func(string) {
		return func(id string) {
			if shadowed != nil {
				shadowed(Shadow{Source: source, Tag: dst.Tag, Kind: kind, ID: id})
			}
		}
	}

	dst.Instructions = appendNew(dst.Instructions, src.Instructions, blockKey, report(KindInstructions))
	dst.Structure = appendNew(dst.Structure, src.Structure, entryKey, report(KindStructure))
	dst.Requirements = appendNew(dst.Requirements, src.Requirements, blockKey, report(KindRequirements))
	dst.Checklists = appendNew(dst.Checklists, src.Checklists, blockKey, report(KindChecklists))
	dst.Hooks = appendNew(dst.Hooks, src.Hooks, hookKey, report(KindHooks))

	if src.Template != nil {
		dst.Template = src.Template.clone()
	}
}

// appendNew returns dst extended with every element of src whose key is not
// already present. Existing elements are never replaced.
func appendNew[T any](dst, src []T, key func(T) string, shadowed func(string)) []T {
	if len(src) == 0 {
		return dst
	}
	seen := make(map[string]struct{}, len(dst)+len(src))
	for _, f := range dst {
		seen[key(f)] = struct{}{}
	}
	for _, f := range src {
		k := key(f)
		if _, dup := seen[k]; dup {
			shadowed(k)
			continue
		}
		seen[k] = struct{}{}
		dst = append(dst, f)
	}
	return dst
}
