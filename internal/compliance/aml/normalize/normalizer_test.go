package normalize

import (
	"testing"
	"time"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestName(t *testing.T) {
	n := New(DefaultConfig())

	tests := []struct {
		in   string
		want string
	}{
		{"  John   DOE ", "john doe"},
		{"Dr. José Müller Jr.", "jose mueller"},
		{"Jean-Luc O'Neil", "jean luc oneil"},
		{"", ""},
		{"!!!", ""},
		{"Şahin Ağaoğlu", "sahin agaoglu"},
		{"Łukasz Świątek", "lukasz swiatek"},
		{"İlhan Işık", "ilhan isik"},
		{"Jose\u0301 Nun\u0303ez", "jose nunez"},
		{"Владимир Путин", "владимир путин"},
		{"Ёлкин, Пётр", "елкин петр"},
		{"محمد علي", "محمد علي"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Name(tt.in))
		})
	}
}

func TestNormalizeRequest(t *testing.T) {
	n := New(DefaultConfig())
	req := &aml.ScreeningRequest{
		UserID: "u-1",
		PersonalInfo: aml.PersonalInfo{
			FirstName:   "Bill",
			MiddleName:  "H",
			LastName:    "Gates",
			DateOfBirth: "28/10/1955",
			Country:     "us",
			Address:     &aml.Address{Line1: "1 Main St.", City: "Seattle", Country: "US"},
		},
	}

	s := n.Normalize(req)

	assert.Equal(t, "bill h gates", s.FullName)
	assert.Equal(t, []string{"bill", "h", "gates"}, s.NameTokens)
	assert.Equal(t, "US", s.Country)
	assert.Contains(t, s.Aliases, "bill gates")
	assert.Contains(t, s.Aliases, "william gates")
	assert.Contains(t, s.Aliases, "william h gates")
	assert.Equal(t, "1 main street seattle us", s.Address)
	require.NotNil(t, s.DateOfBirth)
	assert.Equal(t, time.Date(1955, 10, 28, 0, 0, 0, 0, time.UTC), *s.DateOfBirth)
	assert.Equal(t, s.FullName, s.Names()[0])
}

func TestNormalizeKeepsNonLatinNames(t *testing.T) {
	n := New(DefaultConfig())
	s := n.Normalize(&aml.ScreeningRequest{
		UserID:       "u-3",
		PersonalInfo: aml.PersonalInfo{FirstName: "Владимир", LastName: "Путин", Country: "RU"},
	})

	assert.Equal(t, "владимир путин", s.FullName)
	assert.Equal(t, []string{"владимир", "путин"}, s.NameTokens)
	assert.Equal(t, []string{"владимир путин"}, s.Names())
}

func TestNormalizeMissingOptionalFields(t *testing.T) {
	n := New(DefaultConfig())
	s := n.Normalize(&aml.ScreeningRequest{
		UserID:       "u-2",
		PersonalInfo: aml.PersonalInfo{FirstName: "Jane", LastName: "Roe", Country: "IN", DateOfBirth: "not a date"},
	})

	assert.Nil(t, s.DateOfBirth)
	assert.Empty(t, s.Address)
	assert.Empty(t, s.Aliases)
	assert.Equal(t, []string{"jane roe"}, s.Names())
}
