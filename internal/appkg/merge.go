// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package appkg

// MergeIO pairs each application package input/output by id with its peer
// process-description counterpart. The package definition is authoritative
// for type and cardinality; the peer supplies human metadata and additional
// supported media types. Merged formats deduplicate by the
// (mediaType, encoding, schema) triple and the package default survives even
// when the peer re-lists it.
func MergeIO(pkg *Package, peerInputs []InputDef, peerOutputs []OutputDef) (inputs []InputDef, outputs []OutputDef) {
	peerIn := make(map[string]*InputDef, len(peerInputs))
	for i := range peerInputs {
		peerIn[peerInputs[i].ID] = &peerInputs[i]
	}
	peerOut := make(map[string]*OutputDef, len(peerOutputs))
	for i := range peerOutputs {
		peerOut[peerOutputs[i].ID] = &peerOutputs[i]
	}

	inputs = make([]InputDef, len(pkg.Inputs))
	for i, def := range pkg.Inputs {
		merged := def
		if peer, ok := peerIn[def.ID]; ok {
			mergeMetadata(&merged.Title, peer.Title)
			mergeMetadata(&merged.Abstract, peer.Abstract)
			if len(merged.Keywords) == 0 {
				merged.Keywords = peer.Keywords
			}
			merged.Formats = mergeFormats(merged.Formats, peer.Formats)
		}
		inputs[i] = merged
	}

	outputs = make([]OutputDef, len(pkg.Outputs))
	for i, def := range pkg.Outputs {
		merged := def
		if peer, ok := peerOut[def.ID]; ok {
			mergeMetadata(&merged.Title, peer.Title)
			mergeMetadata(&merged.Abstract, peer.Abstract)
			if len(merged.Keywords) == 0 {
				merged.Keywords = peer.Keywords
			}
			merged.Formats = mergeFormats(merged.Formats, peer.Formats)
		}
		outputs[i] = merged
	}
	return inputs, outputs
}

func mergeMetadata(dst *string, peer string) {
	if *dst == "" {
		*dst = peer
	}
}

type formatKey struct {
	mediaType string
	encoding  string
	schema    string
}

// mergeFormats appends peer formats not already present. When the package's
// single default media type also appears in the peer list, the merged entry
// stays marked default.
func mergeFormats(pkgFormats, peerFormats []Format) []Format {
	if len(peerFormats) == 0 {
		return pkgFormats
	}

	merged := make([]Format, 0, len(pkgFormats)+len(peerFormats))
	seen := make(map[formatKey]int)
	for _, f := range pkgFormats {
		seen[formatKey{f.MediaType, f.Encoding, f.Schema}] = len(merged)
		merged = append(merged, f)
	}
	for _, f := range peerFormats {
		key := formatKey{f.MediaType, f.Encoding, f.Schema}
		if idx, ok := seen[key]; ok {
			if merged[idx].Default || f.Default {
				merged[idx].Default = true
			}
			continue
		}
		f.Default = false
		seen[key] = len(merged)
		merged = append(merged, f)
	}
	return merged
}
