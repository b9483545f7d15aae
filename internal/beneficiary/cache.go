// Package beneficiary keeps a device's saved transaction recipients.
package beneficiary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vtu-pay/vtu_pay/internal/storage"
)

// ServiceAirtime is the service type legacy entries without one fall into.
const ServiceAirtime = "airtime"

// Beneficiary is a saved recipient. JSON names match what earlier clients
// persisted so existing collections keep loading.
type Beneficiary struct {
	ID              string `json:"id"`
	Name            string `json:"name,omitempty"`
	PhoneNumber     string `json:"phoneNumber,omitempty"`
	AccountNumber   string `json:"accountNumber,omitempty"`
	BankName        string `json:"bankName,omitempty"`
	SmartCardNumber string `json:"smartCardNumber,omitempty"`
	MeterNumber     string `json:"meterNumber,omitempty"`
	ServiceType     string `json:"serviceType,omitempty"`
	Network         string `json:"network,omitempty"`
	CreatedAt       string `json:"createdAt,omitempty"`
}

// Matches reports whether b belongs to serviceType. Entries saved before
// service types existed only carried a phone number and count as airtime.
func (b Beneficiary) Matches(serviceType string) bool {
	if b.ServiceType != "" {
		return strings.EqualFold(b.ServiceType, serviceType)
	}
	return b.PhoneNumber != "" && strings.EqualFold(serviceType, ServiceAirtime)
}

// Cache is the durable, newest-first beneficiary list.
type Cache struct {
	kv     storage.Store
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewCache builds a cache over kv.
func NewCache(kv storage.Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{kv: kv, logger: logger, now: time.Now}
}

// GetAll returns every entry, newest first. A corrupted collection reads
// as empty; only storage backend failures are returned.
func (c *Cache) GetAll(ctx context.Context) ([]Beneficiary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx)
}

// GetByServiceType filters case-insensitively, keeping order.
func (c *Cache) GetByServiceType(ctx context.Context, serviceType string) ([]Beneficiary, error) {
	all, err := c.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Beneficiary, 0, len(all))
	for _, b := range all {
		if b.Matches(serviceType) {
			out = append(out, b)
		}
	}
	return out, nil
}

// Save upserts b. Without an id a local one is generated and the entry
// goes to the front; an existing id is replaced where it stands.
func (c *Cache) Save(ctx context.Context, b Beneficiary) (Beneficiary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list, err := c.load(ctx)
	if err != nil {
		return Beneficiary{}, err
	}
	now := c.now()
	if b.ID == "" {
		b.ID = localID(now)
	}
	if b.CreatedAt == "" {
		b.CreatedAt = now.UTC().Format(time.RFC3339)
	}

	replaced := false
	for i := range list {
		if list[i].ID == b.ID {
			list[i] = b
			replaced = true
			break
		}
	}
	if !replaced {
		list = append([]Beneficiary{b}, list...)
	}
	if err := c.store(ctx, list); err != nil {
		return Beneficiary{}, err
	}
	return b, nil
}

// Remove deletes the entry with id. Unknown ids are ignored.
func (c *Cache) Remove(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	list, err := c.load(ctx)
	if err != nil {
		return err
	}
	kept := list[:0]
	for _, b := range list {
		if b.ID != id {
			kept = append(kept, b)
		}
	}
	if len(kept) == len(list) {
		return nil
	}
	return c.store(ctx, kept)
}

// Clear drops the whole collection.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return storage.Delete(ctx, c.kv, storage.KeyBeneficiaries)
}

func (c *Cache) load(ctx context.Context) ([]Beneficiary, error) {
	var list []Beneficiary
	ok, err := storage.GetJSON(ctx, c.kv, storage.KeyBeneficiaries, &list)
	if err != nil {
		return nil, fmt.Errorf("load beneficiaries: %w", err)
	}
	if !ok {
		if _, getErr := c.kv.Get(ctx, storage.KeyBeneficiaries); getErr == nil {
			c.logger.Warn("beneficiary collection is corrupted; treating as empty")
		}
		return []Beneficiary{}, nil
	}
	if list == nil {
		list = []Beneficiary{}
	}
	return list, nil
}

func (c *Cache) store(ctx context.Context, list []Beneficiary) error {
	encoded, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode beneficiaries: %w", err)
	}
	if err := storage.Set(ctx, c.kv, storage.KeyBeneficiaries, string(encoded)); err != nil {
		return fmt.Errorf("save beneficiaries: %w", err)
	}
	return nil
}

func localID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("local-%d-%s", now.UnixMilli(), suffix)
}
