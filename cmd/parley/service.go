package main

import (
	"fmt"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/config"
)

// program adapts the app lifecycle to the service manager. Start must
// not block; the gateway and scheduler already run in the background.
type program struct {
	cfgPath string
	app     *app
}

// Start implements service.Interface.
func (p *program) Start(_ service.Service) error {
	cfgPath := p.cfgPath
	if cfgPath == "" {
		resolved, err := resolveConfigPath()
		if err != nil {
			return err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	if err := a.start(); err != nil {
		a.close()
		return err
	}

	p.app = a
	return nil
}

// Stop implements service.Interface.
func (p *program) Stop(_ service.Service) error {
	if p.app == nil {
		return errNotRunning("parley")
	}
	p.app.stop()
	p.app = nil
	return nil
}

func serviceCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:       "service [install|uninstall|start|stop|run]",
		Short:     "Manage parley as a system service",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"install", "uninstall", "start", "stop", "run"},
		RunE: func(_ *cobra.Command, args []string) error {
			action := args[0]

			svcConfig := &service.Config{
				Name:        "parley",
				DisplayName: "Parley chat server",
				Description: "Self-hosted LLM chat backend with durable conversations.",
				Arguments:   []string{"service", "run"},
			}
			if cfgPath != "" {
				svcConfig.Arguments = append(svcConfig.Arguments, "--config", cfgPath)
			}

			svc, err := service.New(&program{cfgPath: cfgPath}, svcConfig)
			if err != nil {
				return fmt.Errorf("create service: %w", err)
			}

			if action == "run" {
				return svc.Run()
			}

			if err := service.Control(svc, action); err != nil {
				return fmt.Errorf("service %s: %w", action, err)
			}
			fmt.Printf("service %s: done\n", action)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "Path to configuration file")
	return cmd
}
