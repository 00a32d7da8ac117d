package archival

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// officeCommand renders input to PDF in dir with LibreOffice headless.
// Each namespace gets its own user profile so parallel runs do not fight
// over the default profile lock.
func officeCommand(bin, input, dir string) Command {
	profile := "file://" + filepath.ToSlash(filepath.Join(dir, "lo-profile"))
	return Command{
		Name: bin,
		Args: []string{
			"-env:UserInstallation=" + profile,
			"--headless", "--norestore", "--nolockcheck",
			"--convert-to", "pdf",
			"--outdir", dir,
			input,
		},
		Dir: dir,
	}
}

// renderOffice converts an office document to PDF and returns its path.
func (c *Converter) renderOffice(ctx context.Context, ns *Namespace, input string) (string, error) {
	if _, err := c.runner.Run(ctx, officeCommand(c.cfg.SofficeBin, input, ns.Dir)); err != nil {
		return "", err
	}
	stem := filepath.Base(input)
	stem = stem[:len(stem)-len(filepath.Ext(stem))]
	out := ns.File(stem + ".pdf")
	if info, err := os.Stat(out); err != nil || info.Size() == 0 {
		return "", fmt.Errorf("%s: no PDF produced", c.cfg.SofficeBin)
	}
	return out, nil
}
