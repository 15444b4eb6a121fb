// Package config loads LocalMesh deployment configuration from layered
// sources: a YAML file, environment variables and built-in defaults.
//
// Precedence, lowest to highest: defaults, YAML file, LOCALMESH_* env vars.
// A .env file in the working directory is read into the environment before
// the overlay, so local setups can keep API keys out of the YAML file.
//
// Usage:
//
//	cfg, err := config.Load("localmesh.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	mesh, err := localmesh.NewFromConfig(ctx, cfg)
//
// Load validates the result; an unknown storage driver, AI provider or log
// level fails fast rather than surfacing later as a nil subsystem.
package config
