package command

import (
	"github.com/urfave/cli/v2"

	"github.com/yndnr/sharemesh-go/internal/cli/output"
	"github.com/yndnr/sharemesh-go/internal/config"
)

// ConfigCommand returns the config command group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect the effective configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the merged configuration with secrets masked",
				Action: func(c *cli.Context) error {
					e := envFrom(c)
					format := e.format
					if format == output.FormatTable {
						// Nested sections read better as YAML.
						format = output.FormatYAML
					}
					return output.NewFormatter(format).Format(e.out, config.Sanitize(e.cfg))
				},
			},
		},
	}
}
