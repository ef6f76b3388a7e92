package ethereum

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type stubBackend struct {
	chainID  *big.Int
	block    uint64
	balances map[common.Address]*big.Int
	nonces   map[common.Address]uint64
}

func (s *stubBackend) ChainID(ctx context.Context) (*big.Int, error) { return s.chainID, nil }
func (s *stubBackend) BlockNumber(ctx context.Context) (uint64, error) {
	return s.block, nil
}
func (s *stubBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if bal, ok := s.balances[account]; ok {
		return bal, nil
	}
	return big.NewInt(0), nil
}
func (s *stubBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return s.nonces[account], nil
}

func TestFetchChainSnapshot(t *testing.T) {
	client := NewBackendClient("test", &stubBackend{chainID: big.NewInt(1337), block: 255})

	snapshot, err := client.FetchChainSnapshot(context.Background())
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if snapshot.ChainID != "0x539" {
		t.Fatalf("unexpected chain id: got %s want 0x539", snapshot.ChainID)
	}
	if snapshot.BlockNumber != "0xff" {
		t.Fatalf("unexpected block number: got %s want 0xff", snapshot.BlockNumber)
	}
}

func TestNativeBalance(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	client := NewBackendClient("test", &stubBackend{
		chainID:  big.NewInt(1),
		balances: map[common.Address]*big.Int{addr: big.NewInt(42)},
	})

	balance, err := client.NativeBalance(context.Background(), addr.Hex())
	if err != nil {
		t.Fatalf("native balance: %v", err)
	}
	if balance.Int64() != 42 {
		t.Fatalf("unexpected balance: got %d want 42", balance.Int64())
	}

	if _, err := client.NativeBalance(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty address")
	}
}

func TestTransactionCount(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	client := NewBackendClient("test", &stubBackend{
		chainID: big.NewInt(1),
		nonces:  map[common.Address]uint64{addr: 7},
	})

	nonce, err := client.TransactionCount(context.Background(), addr.Hex())
	if err != nil {
		t.Fatalf("transaction count: %v", err)
	}
	if nonce != 7 {
		t.Fatalf("unexpected nonce: got %d want 7", nonce)
	}
}
