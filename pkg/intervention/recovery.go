package intervention

import (
	"errors"
	"fmt"
	"regexp"
)

// Recovery actions named by the critical-error pattern table.
const (
	RecoveryRestartService = "restart_service"
	RecoveryInstallModule  = "install_module"
	RecoveryFreePort       = "free_port"
)

var (
	portNumber = regexp.MustCompile(`\d{2,5}`)
	nodeModule = regexp.MustCompile(`(?i)cannot find module '([^']+)'`)
	pyModule   = regexp.MustCompile(`(?i)no module named '?([A-Za-z0-9_.]+)'?`)
	// moduleName gates what we are willing to splice into a shell line; the
	// candidate was extracted from agent-controlled output.
	moduleName = regexp.MustCompile(`^[A-Za-z0-9@/._-]+$`)
)

// recoveryCommand builds the privileged shell command for a recovery action
// from the output excerpt that matched the critical pattern.
func recoveryCommand(action, matched string) (string, error) {
	switch action {
	case RecoveryRestartService:
		return "service postgresql restart || service postgresql start", nil
	case RecoveryFreePort:
		ports := portNumber.FindAllString(matched, -1)
		if len(ports) == 0 {
			return "", errors.New("no port number in matched output")
		}
		port := ports[len(ports)-1]
		return fmt.Sprintf("fuser -k %s/tcp 2>/dev/null || kill -9 $(lsof -ti:%s)", port, port), nil
	case RecoveryInstallModule:
		if m := nodeModule.FindStringSubmatch(matched); m != nil {
			return installCommand("npm install", m[1])
		}
		if m := pyModule.FindStringSubmatch(matched); m != nil {
			return installCommand("pip install", m[1])
		}
		return "", errors.New("no module name in matched output")
	default:
		return "", fmt.Errorf("unknown recovery action %q", action)
	}
}

func installCommand(installer, name string) (string, error) {
	if !moduleName.MatchString(name) {
		return "", fmt.Errorf("unsafe module name %q", name)
	}
	return installer + " " + name, nil
}
