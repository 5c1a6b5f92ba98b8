package ipc

type (
	// A request to list the available Outputs
	OutputRequest struct {
		// Whether to include the modes an output supports
		IncludeModes bool `json:"include_modes" yaml:"include_modes"`
		// Target one specific output
		SpecifiesOutput bool `json:"specifies_output" yaml:"specifies_output"`
		// Name of the output you want info on. Only matters if SpecifiesOutput is set
		TargetOutput string `json:"target_output" yaml:"target_output"`
	}

	// A mode an output supports
	OutputMode struct {
		// Mode height in pixel
		Height int `json:"height" yaml:"height"`
		// Mode width in pixel
		Width int `json:"width" yaml:"width"`
		// Refresh rate of the mode in millihertz
		RefreshRate int  `json:"refresh_rate" yaml:"refresh_rate"`
		Preferred   bool `json:"preferred,omitempty" yaml:"preferred,omitempty"`
		Current     bool `json:"current,omitempty" yaml:"current,omitempty"`
	}

	// What is known about one output
	OutputInfo struct {
		Name  string `json:"name" yaml:"name"`
		Make  string `json:"make" yaml:"make"`
		Model string `json:"model" yaml:"model"`
		// Position in the global space, only valid if Mapped
		X      int  `json:"x" yaml:"x"`
		Y      int  `json:"y" yaml:"y"`
		Mapped bool `json:"mapped" yaml:"mapped"`
		// Logical size
		Width     int     `json:"width" yaml:"width"`
		Height    int     `json:"height" yaml:"height"`
		Transform string  `json:"transform" yaml:"transform"`
		Scale     float64 `json:"scale" yaml:"scale"`
	}

	// Response to a OutputRequest message
	OutputResponse struct {
		// List of all outputs. Only contains target output if specified
		Outputs []string `json:"outputs" yaml:"outputs"`
		// Details for every output in Outputs, same order
		Details []OutputInfo `json:"details" yaml:"details"`
		// A list of modes an output supports. Only set if IncludeModes is true
		OutputModes map[string][]OutputMode `json:"output_modes,omitempty" yaml:"output_modes,omitempty"`
		// Nr of outputs found
		OutputsFound int `json:"outputs_found" yaml:"outputs_found"`
	}
)
