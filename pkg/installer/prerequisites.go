package installer

import (
	"errors"
	"fmt"
)

// Tool is a binary the pipeline shells out to.
type Tool struct {
	Name       string
	Purpose    string
	InstallURL string
}

func (i *Installer) requiredTools() []Tool {
	tools := []Tool{
		{Name: "sh", Purpose: "runs the k3s and flux install scripts"},
		{Name: "curl", Purpose: "downloads the k3s and flux install scripts", InstallURL: "https://curl.se/download.html"},
		{Name: "bash", Purpose: "runs the flux install script"},
	}
	if i.settings != nil && len(i.settings.Packages) > 0 {
		tools = append(tools, Tool{Name: "apt-get", Purpose: "installs host packages"})
	}
	return tools
}

// CheckPrerequisites verifies that every tool the pipeline needs before the
// package step is on PATH. All missing tools are reported together.
func (i *Installer) CheckPrerequisites() error {
	var validationErrs []error
	for _, tool := range i.requiredTools() {
		if _, err := i.runner.LookPath(tool.Name); err != nil {
			msg := fmt.Errorf("%s not found in PATH (%s)", tool.Name, tool.Purpose)
			if tool.InstallURL != "" {
				msg = fmt.Errorf("%w, see %s", msg, tool.InstallURL)
			}
			validationErrs = append(validationErrs, msg)
		}
	}
	return errors.Join(validationErrs...)
}
