package fee

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/levelbook/pkg/xerr"
)

var (
	platformWallet = common.HexToAddress("0xFE00000000000000000000000000000000000000")
	projectWallet  = common.HexToAddress("0xFE00000000000000000000000000000000000001")
	collection     = common.HexToAddress("0x7210000000000000000000000000000000000000")
)

func TestFreshEngineBook(t *testing.T) {
	e, err := NewEngine(platformWallet, 0)
	if err != nil {
		t.Fatal(err)
	}
	b := e.Book(collection)
	if b.PlatformWallet != platformWallet || b.PlatformRate != 0 {
		t.Errorf("platform = (%s, %d), want (%s, 0)", b.PlatformWallet.Hex(), b.PlatformRate, platformWallet.Hex())
	}
	if b.ProjectWallet != (common.Address{}) || b.ProjectRate != 0 {
		t.Errorf("project = (%s, %d), want zero", b.ProjectWallet.Hex(), b.ProjectRate)
	}
}

func TestSplitFivePlusTenPercent(t *testing.T) {
	e, _ := NewEngine(platformWallet, 0)
	if err := e.SetBase(platformWallet, 50); err != nil {
		t.Fatal(err)
	}
	if err := e.SetProject(collection, projectWallet, 100); err != nil {
		t.Fatal(err)
	}
	s := e.Split(uint256.NewInt(100), collection)
	if s.Seller.Uint64() != 85 || s.Platform.Uint64() != 5 || s.Project.Uint64() != 10 {
		t.Errorf("split = (%d, %d, %d), want (85, 5, 10)", s.Seller.Uint64(), s.Platform.Uint64(), s.Project.Uint64())
	}
	// other collections only pay the platform cut
	other := e.Split(uint256.NewInt(100), common.HexToAddress("0x01"))
	if other.Seller.Uint64() != 95 || !other.Project.IsZero() {
		t.Errorf("other split = (%d, %d), want (95, 0)", other.Seller.Uint64(), other.Project.Uint64())
	}
}

func TestSplitConservesGross(t *testing.T) {
	e, _ := NewEngine(platformWallet, 0)
	max := new(uint256.Int).SetAllOne()
	for _, tc := range []struct {
		name             string
		platform, projct uint16
		gross            *uint256.Int
	}{
		{"rounding", 33, 77, uint256.NewInt(999)},
		{"all fees", 400, 600, uint256.NewInt(12345)},
		{"no fees", 0, 0, uint256.NewInt(7)},
		{"max gross", 25, 25, max},
		{"tiny gross", 999, 1, uint256.NewInt(1)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e.SetProject(collection, common.Address{}, 0)
			if err := e.SetBase(platformWallet, tc.platform); err != nil {
				t.Fatal(err)
			}
			if err := e.SetProject(collection, projectWallet, tc.projct); err != nil {
				t.Fatal(err)
			}
			s := e.Split(tc.gross, collection)
			var sum uint256.Int
			sum.Add(&s.Seller, &s.Platform)
			sum.Add(&sum, &s.Project)
			if !sum.Eq(tc.gross) {
				t.Errorf("sum = %s, want %s", sum.Dec(), tc.gross.Dec())
			}
		})
	}
}

func TestRateLimits(t *testing.T) {
	e, _ := NewEngine(platformWallet, 0)
	if err := e.SetBase(platformWallet, 1001); !errors.Is(err, xerr.ErrInvalidRequest) {
		t.Errorf("rate 1001 err = %v, want invalid request", err)
	}
	if err := e.SetBase(platformWallet, 600); err != nil {
		t.Fatal(err)
	}
	if err := e.SetProject(collection, projectWallet, 401); !errors.Is(err, xerr.ErrInvalidRequest) {
		t.Errorf("combined 1001 err = %v, want invalid request", err)
	}
	if err := e.SetProject(collection, projectWallet, 400); err != nil {
		t.Fatal(err)
	}
	if err := e.SetBase(platformWallet, 601); !errors.Is(err, xerr.ErrInvalidRequest) {
		t.Errorf("raising platform past combined limit err = %v, want invalid request", err)
	}
	if _, err := NewEngine(platformWallet, 2000); err == nil {
		t.Errorf("NewEngine accepted rate 2000")
	}
}

func TestZeroWalletNeedsZeroRate(t *testing.T) {
	if _, err := NewEngine(common.Address{}, 25); !errors.Is(err, xerr.ErrInvalidRequest) {
		t.Errorf("NewEngine(zero, 25) err = %v, want invalid request", err)
	}
	e, err := NewEngine(common.Address{}, 0)
	if err != nil {
		t.Fatalf("NewEngine(zero, 0): %v", err)
	}
	for _, tc := range []struct {
		name string
		set  func() error
	}{
		{"base", func() error { return e.SetBase(common.Address{}, 100) }},
		{"project", func() error { return e.SetProject(collection, common.Address{}, 100) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.set(); !errors.Is(err, xerr.ErrInvalidRequest) {
				t.Errorf("err = %v, want invalid request", err)
			}
		})
	}
	b := e.Book(collection)
	if b.PlatformRate != 0 || b.ProjectRate != 0 {
		t.Errorf("book changed after rejected setters: %+v", b)
	}
	// a zero wallet with a zero rate clears the project pair
	if err := e.SetProject(collection, projectWallet, 10); err != nil {
		t.Fatal(err)
	}
	if err := e.SetProject(collection, common.Address{}, 0); err != nil {
		t.Fatal(err)
	}
	if b := e.Book(collection); b.ProjectRate != 0 {
		t.Errorf("project rate = %d after clear, want 0", b.ProjectRate)
	}
}
