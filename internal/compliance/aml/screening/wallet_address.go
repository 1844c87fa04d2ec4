package screening

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
	"github.com/Aidin1998/amlscreen/pkg/errors"
)

var (
	bitcoinLegacy = regexp.MustCompile(`^[13][a-km-zA-HJ-NP-Z1-9]{25,34}$`)
	bitcoinBech32 = regexp.MustCompile(`^(bc1|BC1)[02-9ac-hj-np-zAC-HJ-NP-Z]{11,71}$`)
	tronAddress   = regexp.MustCompile(`^T[1-9A-HJ-NP-Za-km-z]{33}$`)
)

var evmNetworks = map[string]struct{}{
	"ethereum": {},
	"polygon":  {},
	"bsc":      {},
	"arbitrum": {},
}

// ValidateWalletAddress checks the address format for its network.
func ValidateWalletAddress(w aml.WalletAddress) error {
	addr := strings.TrimSpace(w.Address)
	network := strings.ToLower(w.Network)

	var ok bool
	switch {
	case isEVM(network):
		ok = common.IsHexAddress(addr) && strings.HasPrefix(strings.ToLower(addr), "0x")
	case network == "bitcoin":
		ok = bitcoinLegacy.MatchString(addr) || bitcoinBech32.MatchString(addr)
	case network == "tron":
		ok = tronAddress.MatchString(addr)
	default:
		return errors.Validation.Explain("unsupported network %q", w.Network)
	}
	if !ok {
		return errors.Validation.Explain("invalid %s address %q", network, addr)
	}
	return nil
}

// CanonicalAddress returns the lookup key for an address. Hex and bech32 forms are case-insensitive,
// base58 forms are kept as-is.
func CanonicalAddress(network, address string) string {
	address = strings.TrimSpace(address)
	lower := strings.ToLower(address)
	switch {
	case isEVM(strings.ToLower(network)), strings.HasPrefix(lower, "0x"):
		return lower
	case strings.HasPrefix(lower, "bc1"):
		return lower
	default:
		return address
	}
}

func isEVM(network string) bool {
	_, ok := evmNetworks[network]
	return ok
}
