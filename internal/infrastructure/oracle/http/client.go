package httporacle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ark-network/dlc/internal/core/ports"
	"github.com/ark-network/dlc/pkg/oracle"
	log "github.com/sirupsen/logrus"
)

type pubkeyResponse struct {
	PublicKey string `json:"publicKey"`
}

type client struct {
	url       string
	publicKey string
	http      *http.Client
}

// NewOracle connects to the oracle served at the given url and fetches its
// public key.
func NewOracle(ctx context.Context, oracleUrl string) (ports.Oracle, error) {
	if _, err := url.Parse(oracleUrl); err != nil || len(oracleUrl) <= 0 {
		return nil, fmt.Errorf("invalid oracle url %s", oracleUrl)
	}
	c := &client{
		url:  strings.TrimSuffix(oracleUrl, "/"),
		http: &http.Client{Timeout: 15 * time.Second},
	}

	body, err := c.get(ctx, "pubkey")
	if err != nil {
		return nil, fmt.Errorf("failed to get oracle pubkey: %s", err)
	}
	var resp pubkeyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse oracle pubkey: %s", err)
	}
	if len(resp.PublicKey) != 64 {
		return nil, fmt.Errorf("invalid oracle pubkey %s", resp.PublicKey)
	}
	c.publicKey = resp.PublicKey

	log.Debugf("connected to oracle %s at %s", c.publicKey, c.url)
	return c, nil
}

func (c *client) PublicKey() string {
	return c.publicKey
}

func (c *client) GetAnnouncement(ctx context.Context, eventID string) (*oracle.Announcement, error) {
	body, err := c.get(ctx, "announcements", eventID)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, fmt.Errorf("event %s not found", eventID)
	}

	var announcement oracle.Announcement
	if err := json.Unmarshal(body, &announcement); err != nil {
		return nil, fmt.Errorf("failed to parse announcement: %s", err)
	}
	if announcement.PublicKey != c.publicKey {
		return nil, fmt.Errorf(
			"%w: announcement signed by %s", oracle.ErrInvalidAnnouncement, announcement.PublicKey,
		)
	}
	if err := announcement.Validate(); err != nil {
		return nil, err
	}
	return &announcement, nil
}

func (c *client) GetAttestation(ctx context.Context, eventID string) (*oracle.Attestation, error) {
	body, err := c.get(ctx, "attestations", eventID)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, oracle.ErrNotYetAttested
	}

	var attestation oracle.Attestation
	if err := json.Unmarshal(body, &attestation); err != nil {
		return nil, fmt.Errorf("failed to parse attestation: %s", err)
	}
	return &attestation, nil
}

// get returns a nil body if the resource is not found.
func (c *client) get(ctx context.Context, elem ...string) ([]byte, error) {
	endpoint, err := url.JoinPath(c.url, elem...)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("%s endpoint HTTP error: %s", strings.Join(elem, "/"), resp.Status)
	}
}
