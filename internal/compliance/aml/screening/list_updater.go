package screening

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/normalize"
	"github.com/Aidin1998/amlscreen/pkg/errors"
	"github.com/Aidin1998/amlscreen/pkg/retry"
)

// Feed formats understood by the updater
const (
	FormatOFACJSON = "ofac_json"
	FormatUNXML    = "un_xml"
	FormatEUJSON   = "eu_json"
	FormatSeedJSON = "json"
)

// Feed is one remote reference-data source
type Feed struct {
	ID           string         `mapstructure:"id" validate:"required"`
	Kind         aml.SourceKind `mapstructure:"kind" validate:"required,oneof=sanctions pep adverse_media wallet_risk"`
	Format       string         `mapstructure:"format" validate:"required,oneof=ofac_json un_xml eu_json json"`
	URL          string         `mapstructure:"url" validate:"required,url"`
	Name         string         `mapstructure:"name"`
	Jurisdiction string         `mapstructure:"jurisdiction"`
}

// UpdaterConfig defines configuration for reference list refreshes
type UpdaterConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Retry          retry.Policy  `mapstructure:"retry"`
	UserAgent      string        `mapstructure:"user_agent"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
	Feeds          []Feed        `mapstructure:"feeds" validate:"dive"`
}

// DefaultUpdaterConfig returns conservative download settings with no feeds.
func DefaultUpdaterConfig() UpdaterConfig {
	return UpdaterConfig{
		RequestTimeout: 30 * time.Second,
		Retry:          retry.Policy{MaxAttempts: 3, BaseDelay: 5 * time.Second, MaxDelay: time.Minute},
		UserAgent:      "amlscreen-updater/1.0",
		MaxBodyBytes:   256 << 20,
	}
}

// ListUpdater downloads reference feeds and swaps them into the store.
// A failed refresh leaves the previous snapshot in place.
type ListUpdater struct {
	logger *zap.SugaredLogger
	store  *ReferenceStore
	client *http.Client
	config UpdaterConfig
	now    func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
	status   map[string]FeedStatus
}

// FeedStatus is the outcome of the most recent refresh of a feed
type FeedStatus struct {
	FeedID      string    `json:"feed_id"`
	LastAttempt time.Time `json:"last_attempt"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	Entries     int       `json:"entries"`
	LastError   string    `json:"last_error,omitempty"`
}

// NewListUpdater creates a new reference list updater.
func NewListUpdater(logger *zap.SugaredLogger, store *ReferenceStore, config UpdaterConfig) *ListUpdater {
	return &ListUpdater{
		logger:   logger,
		store:    store,
		client:   &http.Client{Timeout: config.RequestTimeout},
		config:   config,
		now:      time.Now,
		inflight: make(map[string]struct{}),
		status:   make(map[string]FeedStatus),
	}
}

// Refresh downloads one feed by ID.
func (u *ListUpdater) Refresh(ctx context.Context, feedID string) (FeedStatus, error) {
	for _, f := range u.config.Feeds {
		if f.ID == feedID {
			return u.refreshFeed(ctx, f)
		}
	}
	return FeedStatus{}, errors.NotFound.Explain("unknown reference feed %q", feedID)
}

// RefreshKind refreshes every feed of one kind, continuing past failures.
func (u *ListUpdater) RefreshKind(ctx context.Context, kind aml.SourceKind) error {
	var errs []error
	for _, f := range u.config.Feeds {
		if f.Kind != kind {
			continue
		}
		if _, err := u.refreshFeed(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RefreshAll refreshes every configured feed.
func (u *ListUpdater) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, kind := range aml.AllSources {
		if err := u.RefreshKind(ctx, kind); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Status returns the last known status of every feed that has been attempted.
func (u *ListUpdater) Status() []FeedStatus {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]FeedStatus, 0, len(u.status))
	for _, f := range u.config.Feeds {
		if st, ok := u.status[f.ID]; ok {
			out = append(out, st)
		}
	}
	return out
}

func (u *ListUpdater) refreshFeed(ctx context.Context, f Feed) (FeedStatus, error) {
	u.mu.Lock()
	if _, busy := u.inflight[f.ID]; busy {
		u.mu.Unlock()
		return FeedStatus{}, errors.Conflict.Explain("refresh of %q already running", f.ID)
	}
	u.inflight[f.ID] = struct{}{}
	u.mu.Unlock()
	defer func() {
		u.mu.Lock()
		delete(u.inflight, f.ID)
		u.mu.Unlock()
	}()

	u.logger.Infow("Updating reference feed", "feed_id", f.ID, "kind", f.Kind, "format", f.Format)
	st := FeedStatus{FeedID: f.ID, LastAttempt: u.now()}

	var body []byte
	err := u.config.Retry.Do(ctx, func(attempt int) error {
		var derr error
		body, derr = u.download(ctx, f)
		if derr != nil {
			u.logger.Warnw("Feed download failed", "feed_id", f.ID, "attempt", attempt+1, "error", derr)
		}
		return derr
	})

	var entries int
	if err == nil {
		entries, err = u.install(f, body)
	}

	u.mu.Lock()
	prev := u.status[f.ID]
	st.LastSuccess = prev.LastSuccess
	st.Entries = prev.Entries
	if err != nil {
		st.LastError = err.Error()
	} else {
		st.LastSuccess = st.LastAttempt
		st.Entries = entries
	}
	u.status[f.ID] = st
	u.mu.Unlock()

	if err != nil {
		u.logger.Errorw("Reference feed update failed, keeping previous snapshot", "feed_id", f.ID, "error", err)
		return st, errors.SourceUnavailable.Explain("refresh of %q failed", f.ID).Wrap(err)
	}
	u.logger.Infow("Successfully updated reference feed", "feed_id", f.ID, "entries_count", entries)
	return st, nil
}

func (u *ListUpdater) download(ctx context.Context, f Feed) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", u.config.UserAgent)

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	limit := u.config.MaxBodyBytes
	if limit <= 0 {
		limit = 256 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

// install parses a feed body and swaps it into the store. Parsing completes before anything is published.
func (u *ListUpdater) install(f Feed, body []byte) (int, error) {
	now := u.now()
	switch f.Kind {
	case aml.SourceSanctions:
		list, err := parseSanctions(f, body)
		if err != nil {
			return 0, err
		}
		u.store.ReplaceSanctionsList(list, now)
		return len(list.Entries), nil
	case aml.SourcePEP, aml.SourceAdverseMedia, aml.SourceWalletRisk:
		if f.Format != FormatSeedJSON {
			return 0, fmt.Errorf("format %s not supported for %s feeds", f.Format, f.Kind)
		}
		var seed Seed
		if err := json.Unmarshal(body, &seed); err != nil {
			return 0, fmt.Errorf("failed to parse %s feed: %w", f.Kind, err)
		}
		return installSeedSection(u.store, f, &seed, now)
	default:
		return 0, fmt.Errorf("unknown feed kind: %s", f.Kind)
	}
}

func installSeedSection(store *ReferenceStore, f Feed, seed *Seed, now time.Time) (int, error) {
	switch f.Kind {
	case aml.SourcePEP:
		entries := 0
		for _, l := range seed.PEP {
			if l.ID == "" {
				l.ID = f.ID
			}
			store.ReplacePEPList(l.toList(), now)
			entries += len(l.Entries)
		}
		return entries, nil
	case aml.SourceAdverseMedia:
		store.ReplaceMedia(seed.articles(), now)
		return len(seed.Media), nil
	default:
		store.ReplaceWallets(seed.wallets(), seed.WalletLinks, now)
		return len(seed.Wallets), nil
	}
}

func parseSanctions(f Feed, body []byte) (*SanctionsList, error) {
	var (
		list *SanctionsList
		err  error
	)
	switch f.Format {
	case FormatOFACJSON:
		list, err = parseOFACList(body)
	case FormatUNXML:
		list, err = parseUNList(body)
	case FormatEUJSON:
		list, err = parseEUList(body)
	case FormatSeedJSON:
		var seed SeedSanctionsList
		if err = json.Unmarshal(body, &seed); err == nil {
			list = seed.toList()
		}
	default:
		err = fmt.Errorf("unknown feed format: %s", f.Format)
	}
	if err != nil {
		return nil, err
	}
	list.ID = f.ID
	if f.Name != "" {
		list.Name = f.Name
	}
	if f.Jurisdiction != "" {
		list.Jurisdiction = f.Jurisdiction
	}
	if len(list.Entries) == 0 {
		return nil, fmt.Errorf("feed %s contained no entries", f.ID)
	}
	return list, nil
}

// OFACData represents OFAC SDN list data structure
type OFACData struct {
	SDNList []OFACEntry `json:"sdn_list"`
}

// OFACEntry represents an OFAC SDN entry
type OFACEntry struct {
	UID         string   `json:"uid"`
	FirstName   string   `json:"first_name"`
	LastName    string   `json:"last_name"`
	SDNType     string   `json:"sdn_type"`
	Program     string   `json:"program"`
	Remarks     string   `json:"remarks"`
	AKAs        []string `json:"akas"`
	DateOfBirth string   `json:"date_of_birth"`
	Nationality string   `json:"nationality"`
}

// UNData represents UN Consolidated List data structure
type UNData struct {
	XMLName     xml.Name       `xml:"CONSOLIDATED_LIST"`
	Individuals []UNIndividual `xml:"INDIVIDUALS>INDIVIDUAL"`
	Entities    []UNEntity     `xml:"ENTITIES>ENTITY"`
}

// UNIndividual represents a UN individual entry
type UNIndividual struct {
	DataID          string    `xml:"DATAID"`
	FirstName       string    `xml:"FIRST_NAME"`
	SecondName      string    `xml:"SECOND_NAME"`
	ThirdName       string    `xml:"THIRD_NAME"`
	FourthName      string    `xml:"FOURTH_NAME"`
	UnListType      string    `xml:"UN_LIST_TYPE"`
	ReferenceNumber string    `xml:"REFERENCE_NUMBER"`
	ListedOn        string    `xml:"LISTED_ON"`
	Comments1       string    `xml:"COMMENTS1"`
	Nationality     []string  `xml:"NATIONALITY>VALUE"`
	Aliases         []UNAlias `xml:"INDIVIDUAL_ALIAS"`
	DateOfBirth     []struct {
		Date string `xml:"DATE"`
		Year string `xml:"YEAR"`
	} `xml:"INDIVIDUAL_DATE_OF_BIRTH"`
}

// UNEntity represents a UN entity entry
type UNEntity struct {
	DataID          string    `xml:"DATAID"`
	FirstName       string    `xml:"FIRST_NAME"`
	UnListType      string    `xml:"UN_LIST_TYPE"`
	ReferenceNumber string    `xml:"REFERENCE_NUMBER"`
	ListedOn        string    `xml:"LISTED_ON"`
	Comments1       string    `xml:"COMMENTS1"`
	Aliases         []UNAlias `xml:"ENTITY_ALIAS"`
}

// UNAlias is an alternate spelling on a UN record
type UNAlias struct {
	Quality string `xml:"QUALITY"`
	Name    string `xml:"ALIAS_NAME"`
}

// EUData represents EU Consolidated List data structure
type EUData struct {
	Export struct {
		SanctionEntity []EUSanctionEntity `json:"sanctionEntity"`
	} `json:"export"`
}

// EUSanctionEntity represents an EU sanctions entity
type EUSanctionEntity struct {
	LogicalID int    `json:"logicalId"`
	UnitType  string `json:"unitType"`
	NameAlias []struct {
		WholeName string `json:"wholeName"`
	} `json:"nameAlias"`
	BirthDate []struct {
		Date string `json:"birthdate"`
	} `json:"birthdate"`
	Programme string `json:"programme"`
}

func parseOFACList(data []byte) (*SanctionsList, error) {
	var ofac OFACData
	if err := json.Unmarshal(data, &ofac); err != nil {
		return nil, fmt.Errorf("failed to parse OFAC JSON: %w", err)
	}
	list := &SanctionsList{Name: "OFAC Specially Designated Nationals", Jurisdiction: "US"}
	for _, e := range ofac.SDNList {
		entry := &SanctionsEntry{
			ID:             e.UID,
			EntryType:      determineEntryType(e.SDNType),
			PrimaryName:    cleanName(e.FirstName + " " + e.LastName),
			AlternateNames: e.AKAs,
			DateOfBirth:    normalize.ParseDate(e.DateOfBirth),
			Program:        e.Program,
			Remarks:        e.Remarks,
			RiskScore:      1.0,
			IsActive:       true,
		}
		if e.Nationality != "" {
			entry.Nationalities = []string{strings.ToUpper(e.Nationality)}
		}
		list.Entries = append(list.Entries, entry)
	}
	return list, nil
}

func parseUNList(data []byte) (*SanctionsList, error) {
	var un UNData
	if err := xml.Unmarshal(data, &un); err != nil {
		return nil, fmt.Errorf("failed to parse UN XML: %w", err)
	}
	list := &SanctionsList{Name: "UN Security Council Consolidated List", Jurisdiction: "UN"}

	for _, ind := range un.Individuals {
		entry := &SanctionsEntry{
			ID:             ind.DataID,
			EntryType:      "individual",
			PrimaryName:    cleanName(strings.Join([]string{ind.FirstName, ind.SecondName, ind.ThirdName, ind.FourthName}, " ")),
			AlternateNames: aliasNames(ind.Aliases),
			Nationalities:  ind.Nationality,
			Program:        ind.UnListType,
			Remarks:        ind.Comments1,
			RiskScore:      1.0,
			IsActive:       true,
		}
		for _, dob := range ind.DateOfBirth {
			if d := normalize.ParseDate(dob.Date); d != nil {
				entry.DateOfBirth = d
				break
			}
		}
		list.Entries = append(list.Entries, entry)
	}

	for _, ent := range un.Entities {
		list.Entries = append(list.Entries, &SanctionsEntry{
			ID:             ent.DataID,
			EntryType:      "entity",
			PrimaryName:    cleanName(ent.FirstName),
			AlternateNames: aliasNames(ent.Aliases),
			Program:        ent.UnListType,
			Remarks:        ent.Comments1,
			RiskScore:      1.0,
			IsActive:       true,
		})
	}
	return list, nil
}

func parseEUList(data []byte) (*SanctionsList, error) {
	var eu EUData
	if err := json.Unmarshal(data, &eu); err != nil {
		return nil, fmt.Errorf("failed to parse EU JSON: %w", err)
	}
	list := &SanctionsList{Name: "EU Consolidated Financial Sanctions", Jurisdiction: "EU"}
	for _, e := range eu.Export.SanctionEntity {
		if len(e.NameAlias) == 0 {
			continue
		}
		entry := &SanctionsEntry{
			ID:          fmt.Sprintf("eu_%d", e.LogicalID),
			EntryType:   determineEntryType(e.UnitType),
			PrimaryName: cleanName(e.NameAlias[0].WholeName),
			Program:     e.Programme,
			RiskScore:   1.0,
			IsActive:    true,
		}
		for _, alias := range e.NameAlias[1:] {
			entry.AlternateNames = append(entry.AlternateNames, cleanName(alias.WholeName))
		}
		if len(e.BirthDate) > 0 {
			entry.DateOfBirth = normalize.ParseDate(e.BirthDate[0].Date)
		}
		list.Entries = append(list.Entries, entry)
	}
	return list, nil
}

func aliasNames(aliases []UNAlias) []string {
	var out []string
	for _, a := range aliases {
		if name := cleanName(a.Name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func determineEntryType(t string) string {
	switch strings.ToLower(t) {
	case "individual", "person":
		return "individual"
	case "vessel":
		return "vessel"
	default:
		return "entity"
	}
}

func cleanName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
