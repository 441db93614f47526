package rpc

// Block is the subset of a getBlock response the collectors need. The
// block is requested with signature-level transaction detail, so the
// transaction count is the signature count.
type Block struct {
	BlockHeight *uint64  `json:"blockHeight"`
	BlockTime   *int64   `json:"blockTime"`
	ParentSlot  uint64   `json:"parentSlot"`
	Signatures  []string `json:"signatures"`
}

func (b *Block) TxCount() int {
	if b == nil {
		return 0
	}
	return len(b.Signatures)
}

type Supply struct {
	Total          uint64 `json:"total"`
	Circulating    uint64 `json:"circulating"`
	NonCirculating uint64 `json:"nonCirculating"`
}

type EpochInfo struct {
	Epoch            uint64  `json:"epoch"`
	AbsoluteSlot     uint64  `json:"absoluteSlot"`
	BlockHeight      uint64  `json:"blockHeight"`
	SlotIndex        uint64  `json:"slotIndex"`
	SlotsInEpoch     uint64  `json:"slotsInEpoch"`
	TransactionCount *uint64 `json:"transactionCount"`
}

type Account struct {
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rentEpoch"`
}

type ProgramAccount struct {
	Pubkey  string  `json:"pubkey"`
	Account Account `json:"account"`
}

// valueEnvelope matches the {"context": ..., "value": ...} wrapper most
// account-level RPC responses carry.
type valueEnvelope[T any] struct {
	Value T `json:"value"`
}
