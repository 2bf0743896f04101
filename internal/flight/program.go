package flight

// Program is a complete, pre-authored flight routine together with the
// safety envelope a pilot needs before committing to it: clearance around
// the launch point, a minimum battery charge, and a duration estimate.
type Program struct {
	Identifier           string  `yaml:"identifier" json:"identifier"`
	Title                string  `yaml:"title" json:"title"`
	Objective            string  `yaml:"objective" json:"objective"`
	Steps                []Step  `yaml:"steps" json:"steps"`
	RecommendedSpaceM    float64 `yaml:"recommended_space_m" json:"recommended_space_m"`
	MinBatteryPercent    int     `yaml:"min_battery_percent" json:"min_battery_percent"`
	EstimatedDurationSec float64 `yaml:"estimated_duration_seconds" json:"estimated_duration_seconds"`
}

// Summary is the compact listing view of a program, used by catalog tables
// and status reports. It carries no steps.
type Summary struct {
	Identifier           string  `yaml:"identifier" json:"identifier"`
	Title                string  `yaml:"title" json:"title"`
	Objective            string  `yaml:"objective" json:"objective"`
	RecommendedSpaceM    float64 `yaml:"recommended_space_m" json:"recommended_space_m"`
	MinBatteryPercent    int     `yaml:"min_battery_percent" json:"min_battery_percent"`
	EstimatedDurationSec float64 `yaml:"estimated_duration_seconds" json:"estimated_duration_seconds"`
}

// Summary returns the listing view of the program.
func (p Program) Summary() Summary {
	return Summary{
		Identifier:           p.Identifier,
		Title:                p.Title,
		Objective:            p.Objective,
		RecommendedSpaceM:    p.RecommendedSpaceM,
		MinBatteryPercent:    p.MinBatteryPercent,
		EstimatedDurationSec: p.EstimatedDurationSec,
	}
}
