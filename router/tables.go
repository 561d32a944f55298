package router

// Tables holds the static routing data used by the COST, SPEED and QUALITY
// policies. Models absent from a table are treated as worst-ranked.
type Tables struct {
	Cost    map[string]float64 // price per 1M tokens, lower wins
	Speed   map[string]int     // lower is faster
	Quality map[string]int     // higher is better
	Vision  map[string]bool    // image input support
}

// DefaultTables returns approximate routing data for the built-in providers.
func DefaultTables() Tables {
	return Tables{
		Cost: map[string]float64{
			"gpt-4":                    30.0,
			"gpt-4-turbo":              10.0,
			"gpt-3.5-turbo":            0.5,
			"deepseek-chat":            0.14,
			"deepseek-coder":           0.14,
			"qwen-turbo":               0.3,
			"qwen-plus":                0.8,
			"qwen-max":                 2.0,
			"claude-3-opus-20240229":   15.0,
			"claude-3-sonnet-20240229": 3.0,
			"claude-3-haiku-20240307":  0.25,
			"gemini-1.5-flash":         0.35,
			"gemini-1.5-pro":           3.5,
		},
		Speed: map[string]int{
			"gpt-3.5-turbo":            1,
			"claude-3-haiku-20240307":  2,
			"deepseek-chat":            3,
			"gemini-1.5-flash":         3,
			"qwen-turbo":               4,
			"gpt-4-turbo":              5,
			"qwen-plus":                6,
			"claude-3-sonnet-20240229": 7,
			"gemini-1.5-pro":           7,
			"qwen-max":                 8,
			"deepseek-coder":           9,
			"gpt-4":                    10,
			"claude-3-opus-20240229":   11,
		},
		Quality: map[string]int{
			"gpt-4":                    10,
			"claude-3-opus-20240229":   10,
			"gpt-4-turbo":              9,
			"gemini-1.5-pro":           9,
			"claude-3-sonnet-20240229": 8,
			"qwen-max":                 7,
			"deepseek-coder":           7,
			"qwen-plus":                6,
			"deepseek-chat":            5,
			"gpt-3.5-turbo":            5,
			"gemini-1.5-flash":         5,
			"qwen-turbo":               4,
			"claude-3-haiku-20240307":  4,
		},
		Vision: map[string]bool{
			"gpt-4-turbo":              true,
			"claude-3-opus-20240229":   true,
			"claude-3-sonnet-20240229": true,
			"claude-3-haiku-20240307":  true,
			"gemini-1.5-flash":         true,
			"gemini-1.5-pro":           true,
		},
	}
}

// ModelInfo is the routing view of a single model.
type ModelInfo struct {
	Provider string   `json:"provider"`
	Model    string   `json:"model"`
	Cost     *float64 `json:"cost_per_1m_tokens,omitempty"`
	Speed    *int     `json:"speed_rank,omitempty"`
	Quality  *int     `json:"quality_rank,omitempty"`
	Vision   bool     `json:"supports_vision"`
}

func (t Tables) info(provider, name string) ModelInfo {
	info := ModelInfo{Provider: provider, Model: name, Vision: t.Vision[name]}
	if c, ok := t.Cost[name]; ok {
		info.Cost = &c
	}
	if s, ok := t.Speed[name]; ok {
		info.Speed = &s
	}
	if q, ok := t.Quality[name]; ok {
		info.Quality = &q
	}
	return info
}
