package ports

import (
	"context"

	"github.com/ark-network/dlc/pkg/oracle"
)

// Oracle fetches the announcements and attestations of a single oracle.
// GetAttestation returns oracle.ErrNotYetAttested until the event outcome is
// signed.
type Oracle interface {
	PublicKey() string
	GetAnnouncement(ctx context.Context, eventID string) (*oracle.Announcement, error)
	GetAttestation(ctx context.Context, eventID string) (*oracle.Attestation, error)
}
