package fleet

import (
	"os"
	"strconv"

	"github.com/mfshop/devfleet/spec"
)

// BuildServiceEnv computes the environment variables injected into a
// service. The service's own env entries win over the generated ones.
func BuildServiceEnv(fleetName, serviceName string, svc spec.Service) map[string]string {
	env := map[string]string{
		"FLEET_NAME":    fleetName,
		"FLEET_SERVICE": serviceName,
	}
	if svc.Port != 0 {
		env["PORT"] = strconv.Itoa(svc.Port)
	}
	for k, v := range svc.Env {
		env[k] = v
	}
	return env
}

// ExpandTemplates substitutes ${VAR} references in args against env,
// falling back to the process environment for variables env does not
// define. Unknown variables expand to the empty string.
func ExpandTemplates(args []string, env map[string]string) []string {
	if len(args) == 0 {
		return args
	}
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = os.Expand(arg, func(key string) string {
			if v, ok := env[key]; ok {
				return v
			}
			return os.Getenv(key)
		})
	}
	return out
}
