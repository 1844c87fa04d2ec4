package screening

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml/normalize"
)

// Seed is the on-disk form of reference data. The generic JSON feed format uses the same shape.
type Seed struct {
	Sanctions   []SeedSanctionsList `yaml:"sanctions" json:"sanctions"`
	PEP         []SeedPEPList       `yaml:"pep" json:"pep"`
	Media       []SeedArticle       `yaml:"media" json:"media"`
	Wallets     []SeedWallet        `yaml:"wallets" json:"wallets"`
	WalletLinks []WalletLink        `yaml:"wallet_links" json:"wallet_links"`
}

type SeedSanctionsList struct {
	ID           string               `yaml:"id" json:"id"`
	Name         string               `yaml:"name" json:"name"`
	Jurisdiction string               `yaml:"jurisdiction" json:"jurisdiction"`
	Entries      []SeedSanctionsEntry `yaml:"entries" json:"entries"`
}

type SeedSanctionsEntry struct {
	ID            string   `yaml:"id" json:"id"`
	Type          string   `yaml:"type" json:"type"`
	Name          string   `yaml:"name" json:"name"`
	Aliases       []string `yaml:"aliases" json:"aliases"`
	DateOfBirth   string   `yaml:"date_of_birth" json:"date_of_birth"`
	Nationalities []string `yaml:"nationalities" json:"nationalities"`
	Program       string   `yaml:"program" json:"program"`
	Remarks       string   `yaml:"remarks" json:"remarks"`
	RiskScore     float64  `yaml:"risk_score" json:"risk_score"`
	Inactive      bool     `yaml:"inactive" json:"inactive"`
}

type SeedPEPList struct {
	ID      string         `yaml:"id" json:"id"`
	Name    string         `yaml:"name" json:"name"`
	Entries []SeedPEPEntry `yaml:"entries" json:"entries"`
}

type SeedPEPEntry struct {
	ID        string   `yaml:"id" json:"id"`
	Name      string   `yaml:"name" json:"name"`
	Aliases   []string `yaml:"aliases" json:"aliases"`
	Position  string   `yaml:"position" json:"position"`
	Country   string   `yaml:"country" json:"country"`
	Type      string   `yaml:"type" json:"type"`
	RiskLevel string   `yaml:"risk_level" json:"risk_level"`
	RelatedTo string   `yaml:"related_to" json:"related_to"`
	EndDate   string   `yaml:"end_date" json:"end_date"`
}

type SeedArticle struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Body        string `yaml:"body" json:"body"`
	URL         string `yaml:"url" json:"url"`
	Publisher   string `yaml:"publisher" json:"publisher"`
	Language    string `yaml:"language" json:"language"`
	PublishedAt string `yaml:"published_at" json:"published_at"`
}

type SeedWallet struct {
	Address   string  `yaml:"address" json:"address"`
	Network   string  `yaml:"network" json:"network"`
	Category  string  `yaml:"category" json:"category"`
	Label     string  `yaml:"label" json:"label"`
	RiskScore float64 `yaml:"risk_score" json:"risk_score"`
	Source    string  `yaml:"source" json:"source"`
}

// LoadSeedFile reads a YAML seed file.
func LoadSeedFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes YAML seed data.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	return &seed, nil
}

// Apply installs every section present in the seed. Sections that are absent leave the store untouched.
// Seeded data is pinned: it is exempt from the screeners' max list age until a feed replaces it.
func (s *Seed) Apply(store *ReferenceStore, now time.Time) {
	for _, l := range s.Sanctions {
		list := l.toList()
		list.Pinned = true
		store.ReplaceSanctionsList(list, now)
	}
	for _, l := range s.PEP {
		list := l.toList()
		list.Pinned = true
		store.ReplacePEPList(list, now)
	}
	if len(s.Media) > 0 {
		store.replaceMedia(s.articles(), now, true)
	}
	if len(s.Wallets) > 0 || len(s.WalletLinks) > 0 {
		store.replaceWallets(s.wallets(), s.WalletLinks, now, true)
	}
}

func (l SeedSanctionsList) toList() *SanctionsList {
	list := &SanctionsList{
		ID:           l.ID,
		Name:         l.Name,
		Jurisdiction: l.Jurisdiction,
		Entries:      make([]*SanctionsEntry, 0, len(l.Entries)),
	}
	for _, e := range l.Entries {
		entryType := e.Type
		if entryType == "" {
			entryType = "individual"
		}
		list.Entries = append(list.Entries, &SanctionsEntry{
			ID:             e.ID,
			EntryType:      entryType,
			PrimaryName:    e.Name,
			AlternateNames: e.Aliases,
			DateOfBirth:    normalize.ParseDate(e.DateOfBirth),
			Nationalities:  e.Nationalities,
			Program:        e.Program,
			Remarks:        e.Remarks,
			RiskScore:      e.RiskScore,
			IsActive:       !e.Inactive,
		})
	}
	return list
}

func (l SeedPEPList) toList() *PEPList {
	list := &PEPList{ID: l.ID, Name: l.Name, Entries: make([]*PEPEntry, 0, len(l.Entries))}
	for _, e := range l.Entries {
		list.Entries = append(list.Entries, &PEPEntry{
			ID:             e.ID,
			Name:           e.Name,
			AlternateNames: e.Aliases,
			Position:       e.Position,
			Country:        e.Country,
			PEPType:        e.Type,
			RiskLevel:      e.RiskLevel,
			RelatedTo:      e.RelatedTo,
			EndDate:        normalize.ParseDate(e.EndDate),
		})
	}
	return list
}

func (s *Seed) articles() []*MediaArticle {
	out := make([]*MediaArticle, 0, len(s.Media))
	for _, a := range s.Media {
		out = append(out, &MediaArticle{
			ID:          a.ID,
			Title:       a.Title,
			Body:        a.Body,
			URL:         a.URL,
			Publisher:   a.Publisher,
			Language:    a.Language,
			PublishedAt: normalize.ParseDate(a.PublishedAt),
		})
	}
	return out
}

func (s *Seed) wallets() []*WalletRiskEntry {
	out := make([]*WalletRiskEntry, 0, len(s.Wallets))
	for _, w := range s.Wallets {
		out = append(out, &WalletRiskEntry{
			Address:   w.Address,
			Network:   w.Network,
			Category:  w.Category,
			Label:     w.Label,
			RiskScore: w.RiskScore,
			Source:    w.Source,
		})
	}
	return out
}
