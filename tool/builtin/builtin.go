package builtin

import "github.com/hupe1980/agenthub/tool"

// RegisterDefaults registers the calculator and weather tools.
func RegisterDefaults(reg *tool.Registry) error {
	for _, t := range []tool.Tool{NewCalculator(), NewWeather()} {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
