package main

import (
	"log"
	"mmrl/internal/config"
	"mmrl/internal/fileops"
	"mmrl/internal/module"
	"mmrl/internal/platform"
	"mmrl/internal/service"
	"mmrl/internal/shell"
	"os"
)

const (
	version     = "1.0.0"
	versionCode = 1
)

// privileged builds the Service Manager for p on this device. The
// returned func closes the shell session.
func privileged(cfg *config.Config, p platform.Platform, logger *log.Logger) (*service.Local, func()) {
	fm := fileops.NewLocal()
	mcfg := module.Config{
		Files:      fm,
		Spawn:      shell.Spawn,
		ModulesDir: cfg.ModulesDir,
		AdbDir:     cfg.AdbDir,
		Env:        shell.MergeEnv(shell.ScrubEnvironment(os.Environ()), cfg.Env),
		Logger:     logger,
	}

	closeShell := func() {}
	if p.IsRoot() {
		// A shell that dies is replaced on the next command.
		sess := shell.NewLazy(shell.Options{Logger: logger})
		mcfg.Shell = sess
		mcfg.Host = module.DetectHost(sess, version, versionCode)
		closeShell = func() {
			if err := sess.Close(); err != nil {
				logger.Printf("warning: close shell: %v", err)
			}
		}
	}

	m := module.New(p, mcfg)
	logger.Printf("backend %s %s (%d)", m.Name(), m.Version(), m.VersionCode())
	return service.NewLocal(m, fm), closeShell
}
