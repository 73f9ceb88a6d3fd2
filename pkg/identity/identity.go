package identity

import (
	"hash/fnv"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// DefaultGroup is the reboot-coordination group used when none is
	// configured.
	DefaultGroup = "default"

	machineIDPath = "/etc/machine-id"
)

// appNamespace scopes the node UUID derivation to this application so the
// identifier reported upstream is not the raw machine id.
var appNamespace = uuid.MustParse("8a158755-90a0-4153-a2e8-6c1f5e1e2ef4")

// Identity is the stable per-host identity reported to the graph and lock
// services. It is immutable after construction.
type Identity struct {
	// BaseArch is the base architecture of the OS image, e.g. "x86_64".
	BaseArch string
	// Stream is the update stream/channel the host follows.
	Stream string
	// Group is the reboot-coordination group.
	Group string
	// NodeUUID uniquely identifies this host.
	NodeUUID uuid.UUID

	// warinessOverride pins the rollout wariness instead of deriving it.
	warinessOverride *uint16
}

// New builds an Identity from configuration inputs. An empty nodeUUID derives
// one from the machine id; an empty group falls back to DefaultGroup.
func New(basearch, stream, group, nodeUUID string, warinessPermille *uint16) (Identity, error) {
	if basearch == "" {
		return Identity{}, errors.New("base architecture must be provided")
	}
	if stream == "" {
		return Identity{}, errors.New("update stream must be provided")
	}
	if group == "" {
		group = DefaultGroup
	}
	if warinessPermille != nil && *warinessPermille > 1000 {
		return Identity{}, errors.Errorf("rollout wariness %d out of permille range", *warinessPermille)
	}

	var id uuid.UUID
	if nodeUUID != "" {
		parsed, err := uuid.Parse(nodeUUID)
		if err != nil {
			return Identity{}, errors.Wrap(err, "unable to parse configured node UUID")
		}
		id = parsed
	} else {
		derived, err := machineUUID()
		if err != nil {
			return Identity{}, err
		}
		id = derived
	}

	return Identity{
		BaseArch:         basearch,
		Stream:           stream,
		Group:            group,
		NodeUUID:         id,
		warinessOverride: warinessPermille,
	}, nil
}

// WarinessPermille is the host's rollout wariness for the given target
// version, in the range [0, 1000). The value is a stable function of the node
// UUID and the version so staged rollout percentages hold steady across
// polls instead of being re-randomized each time.
func (i Identity) WarinessPermille(version string) uint16 {
	if i.warinessOverride != nil {
		return *i.warinessOverride
	}
	h := fnv.New64a()
	h.Write([]byte(i.NodeUUID.String()))
	h.Write([]byte{0})
	h.Write([]byte(version))
	return uint16(h.Sum64() % 1000)
}

func machineUUID() (uuid.UUID, error) {
	raw, err := os.ReadFile(machineIDPath)
	if err != nil {
		return uuid.UUID{}, errors.Wrap(err, "unable to read machine id")
	}
	machineID := strings.TrimSpace(string(raw))
	if machineID == "" {
		return uuid.UUID{}, errors.Errorf("empty machine id in %s", machineIDPath)
	}
	return uuid.NewSHA1(appNamespace, []byte(machineID)), nil
}
