// Package hwid identifies the uploading machine. Identification is
// best-effort: strategies are tried in order and the final fallback is a
// fixed placeholder, never an error.
package hwid

import (
	"fmt"
	"os"
	"strings"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

// UnknownID is reported when no strategy can identify the machine.
const UnknownID = "unknown"

const dmiProductUUIDPath = "/sys/class/dmi/id/product_uuid"

// Provider resolves the machine's hardware identity.
type Provider interface {
	HardwareID() string
}

// Strategy is a single identification attempt. Returning an error moves the
// chain to the next strategy.
type Strategy func() (string, error)

type provider struct {
	strategies []Strategy
	logger     log.Logger
}

// NewProvider creates the default strategy chain: DMI product UUID from the
// filesystem, then a WMI query on Windows hosts, then UnknownID.
func NewProvider(envRepo env.Repository, logger log.Logger) Provider {
	factory := command.NewFactory(envRepo)
	return &provider{
		strategies: []Strategy{
			dmiProductUUID,
			wmiProductUUID(factory),
		},
		logger: logger,
	}
}

// NewProviderWithStrategies creates a Provider with an explicit chain. Used
// by tests and callers with platform-specific needs.
func NewProviderWithStrategies(logger log.Logger, strategies ...Strategy) Provider {
	return &provider{strategies: strategies, logger: logger}
}

// HardwareID ...
func (p *provider) HardwareID() string {
	for _, strategy := range p.strategies {
		id, err := strategy()
		if err != nil {
			p.logger.Debugf("hardware ID strategy failed: %s", err)
			continue
		}
		if id != "" {
			return id
		}
	}
	p.logger.Warnf("Could not determine hardware ID, reporting %q", UnknownID)
	return UnknownID
}

func dmiProductUUID() (string, error) {
	data, err := os.ReadFile(dmiProductUUIDPath)
	if err != nil {
		return "", fmt.Errorf("read DMI product UUID: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func wmiProductUUID(factory command.Factory) Strategy {
	return func() (string, error) {
		cmd := factory.Create("wmic", []string{"csproduct", "get", "uuid"}, nil)
		out, err := cmd.RunAndReturnTrimmedOutput()
		if err != nil {
			return "", fmt.Errorf("query WMI product UUID: %w", err)
		}

		// Output is a header line followed by the UUID.
		lines := strings.Split(out, "\n")
		if len(lines) < 2 {
			return "", fmt.Errorf("unexpected WMI output: %q", out)
		}
		return strings.TrimSpace(lines[1]), nil
	}
}
