package prompt

// Preset holds reusable constraints and rules for structured prompts.
type Preset struct {
	Constraints []string
	Rules       []string
}

// Apply prepends preset constraints and rules to s.
func Apply(s Structured, presets ...Preset) Structured {
	if len(presets) == 0 {
		return s
	}
	var merged Preset
	for _, p := range presets {
		merged.Constraints = append(merged.Constraints, p.Constraints...)
		merged.Rules = append(merged.Rules, p.Rules...)
	}
	s.Constraints = append(merged.Constraints, s.Constraints...)
	s.Rules = append(merged.Rules, s.Rules...)
	return s
}

// PresetFencedJSON asks for the answer in a json fence after the marker.
func PresetFencedJSON(marker string) Preset {
	return Preset{
		Constraints: []string{
			"Write " + marker + " exactly once, immediately before the answer.",
			"Put the answer in a single ```json fenced block; no comments or trailing commas.",
		},
	}
}

// PresetGoSource keeps generated code self-contained.
func PresetGoSource() Preset {
	return Preset{
		Constraints: []string{
			"Return complete, compilable Go source; no placeholders or elided code.",
			"Do not read files, the network, or the environment.",
		},
	}
}

// PresetNoInvent prevents fabricated facts.
func PresetNoInvent() Preset {
	return Preset{
		Constraints: []string{
			"Do not invent values; use only the provided input.",
		},
	}
}

// PresetCautious encourages explicit uncertainty.
func PresetCautious() Preset {
	return Preset{
		Rules: []string{
			"Avoid guessing; if unsure, leave optional fields out rather than filling them.",
		},
	}
}
