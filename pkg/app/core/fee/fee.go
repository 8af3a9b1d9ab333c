// Package fee splits a payment leg between the seller, the platform wallet
// and an optional per-collection project wallet.
package fee

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/levelbook/pkg/xerr"
)

// RateBase is the denominator of every rate: 50 means 5%.
const RateBase = 1000

// Book is the fee configuration that applies to one collection.
type Book struct {
	PlatformWallet common.Address `json:"platformWallet"`
	PlatformRate   uint16         `json:"platformRate"`
	ProjectWallet  common.Address `json:"projectWallet"`
	ProjectRate    uint16         `json:"projectRate"`
}

type project struct {
	wallet common.Address
	rate   uint16
}

// Engine holds the platform pair and the per-collection project pairs.
// Rates are read at settlement time, so changes apply to resting orders.
type Engine struct {
	mu           sync.RWMutex
	platform     common.Address
	platformRate uint16
	projects     map[common.Address]project
}

func NewEngine(wallet common.Address, rate uint16) (*Engine, error) {
	if rate > RateBase {
		return nil, xerr.Newf(xerr.InvalidRequest, "platform rate %d above %d", rate, RateBase)
	}
	if err := checkWallet(wallet, rate); err != nil {
		return nil, err
	}
	return &Engine{
		platform:     wallet,
		platformRate: rate,
		projects:     make(map[common.Address]project),
	}, nil
}

// SetBase replaces the platform wallet and rate. The new rate may not push
// any collection's combined rate above RateBase.
func (e *Engine) SetBase(wallet common.Address, rate uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rate > RateBase {
		return xerr.Newf(xerr.InvalidRequest, "platform rate %d above %d", rate, RateBase)
	}
	if err := checkWallet(wallet, rate); err != nil {
		return err
	}
	for target, p := range e.projects {
		if uint32(rate)+uint32(p.rate) > RateBase {
			return xerr.Newf(xerr.InvalidRequest, "combined rate for %s above %d", target.Hex(), RateBase)
		}
	}
	e.platform = wallet
	e.platformRate = rate
	return nil
}

// SetProject configures the project pair of target. A zero rate clears it.
func (e *Engine) SetProject(target, wallet common.Address, rate uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if uint32(e.platformRate)+uint32(rate) > RateBase {
		return xerr.Newf(xerr.InvalidRequest, "combined rate for %s above %d", target.Hex(), RateBase)
	}
	if rate == 0 && wallet == (common.Address{}) {
		delete(e.projects, target)
		return nil
	}
	if err := checkWallet(wallet, rate); err != nil {
		return err
	}
	e.projects[target] = project{wallet: wallet, rate: rate}
	return nil
}

// checkWallet refuses a positive rate paid to the zero address, which custody
// would reject at settlement.
func checkWallet(wallet common.Address, rate uint16) error {
	if rate > 0 && wallet == (common.Address{}) {
		return xerr.Newf(xerr.InvalidRequest, "rate %d needs a non-zero wallet", rate)
	}
	return nil
}

func (e *Engine) Book(target common.Address) Book {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p := e.projects[target]
	return Book{
		PlatformWallet: e.platform,
		PlatformRate:   e.platformRate,
		ProjectWallet:  p.wallet,
		ProjectRate:    p.rate,
	}
}

// Split is the three-way division of one payment leg.
type Split struct {
	Book     Book
	Seller   uint256.Int
	Platform uint256.Int
	Project  uint256.Int
}

// Split divides gross for a sale in target. Seller+Platform+Project == gross.
func (e *Engine) Split(gross *uint256.Int, target common.Address) Split {
	b := e.Book(target)
	s := Split{Book: b}
	s.Platform = cut(gross, b.PlatformRate)
	s.Project = cut(gross, b.ProjectRate)
	s.Seller.Sub(gross, &s.Platform)
	s.Seller.Sub(&s.Seller, &s.Project)
	return s
}

// cut computes gross*rate/RateBase without overflowing 256 bits.
func cut(gross *uint256.Int, rate uint16) uint256.Int {
	var out uint256.Int
	if rate == 0 {
		return out
	}
	out.MulDivOverflow(gross, uint256.NewInt(uint64(rate)), uint256.NewInt(RateBase))
	return out
}
