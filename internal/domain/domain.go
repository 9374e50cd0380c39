package domain

// Ticket statuses.
const (
	TicketPending  = "pending"
	TicketConsumed = "consumed"
	TicketFailed   = "failed"
)

// Intent statuses, shared by mint and transfer intents.
const (
	IntentPrepared = "prepared"
	IntentDone     = "done"
	IntentFailed   = "failed"
)

// Escrow statuses, shared by trade offers and sale listings.
const (
	EscrowDraft     = "draft"
	EscrowOpen      = "open"
	EscrowLocked    = "locked"
	EscrowDone      = "done"
	EscrowCancelled = "cancelled"
	EscrowFailed    = "failed"
	EscrowExpired   = "expired"
)

// Ticket is one redeemable unit delivered by the upstream reward feed.
// Terminal states are retained for audit; tickets are never deleted.
type Ticket struct {
	ID               string  `json:"id"`
	Owner            string  `json:"owner"`
	Source           string  `json:"source"`
	Status           string  `json:"status" enum:"pending,consumed,failed"`
	LockedByIntentID *string `json:"locked_by_intent_id,omitempty"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
	UpdatedAt        string  `json:"updated_at" format:"date-time"`
}

// MintIntent reserves one ticket plus a drawn identity slot. Provenance
// fields are written once at draw time and never mutated afterwards.
type MintIntent struct {
	ID             string  `json:"id"`
	Owner          string  `json:"owner"`
	Wallet         string  `json:"wallet"`
	TicketID       string  `json:"ticket_id"`
	Identity       string  `json:"identity"`
	RandomHex      string  `json:"random_hex"`
	SelectionIndex int     `json:"selection_index"`
	AvailableJSON  string  `json:"available_json"`
	CommitTxRef    string  `json:"commit_tx_ref"`
	RevealTxRef    string  `json:"reveal_tx_ref"`
	CloseTxRef     string  `json:"close_tx_ref"`
	PreparedTx     string  `json:"prepared_tx"`
	MintTxRef      *string `json:"mint_tx_ref,omitempty"`
	Status         string  `json:"status" enum:"prepared,done,failed"`
	Reason         string  `json:"reason,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

// TradeOffer is a maker's ask to swap one owned collectible for any of a set
// of acceptable identities. Taker fields stay null until the offer is locked.
type TradeOffer struct {
	ID              string   `json:"id"`
	Maker           string   `json:"maker"`
	MakerWallet     string   `json:"maker_wallet"`
	MakerAsset      string   `json:"maker_asset"`
	Wanted          []string `json:"wanted"`
	Taker           *string  `json:"taker,omitempty"`
	TakerWallet     *string  `json:"taker_wallet,omitempty"`
	TakerAsset      *string  `json:"taker_asset,omitempty"`
	MakerPreparedTx string   `json:"maker_prepared_tx,omitempty"`
	TakerPreparedTx *string  `json:"taker_prepared_tx,omitempty"`
	MakerDelegTxRef *string  `json:"maker_deleg_tx_ref,omitempty"`
	TakerDelegTxRef *string  `json:"taker_deleg_tx_ref,omitempty"`
	SettleTxRef     *string  `json:"settle_tx_ref,omitempty"`
	Status          string   `json:"status" enum:"draft,open,locked,done,cancelled,failed,expired"`
	Reason          string   `json:"reason,omitempty"`
	ExpiresAt       string   `json:"expires_at" format:"date-time"`
	CreatedAt       string   `json:"created_at" format:"date-time"`
	UpdatedAt       string   `json:"updated_at" format:"date-time"`
}

// SaleListing mirrors TradeOffer but one-sided: an asset for a fixed price.
type SaleListing struct {
	ID               string  `json:"id"`
	Seller           string  `json:"seller"`
	SellerWallet     string  `json:"seller_wallet"`
	Asset            string  `json:"asset"`
	Price            int64   `json:"price"`
	Buyer            *string `json:"buyer,omitempty"`
	BuyerWallet      *string `json:"buyer_wallet,omitempty"`
	SellerPreparedTx string  `json:"seller_prepared_tx,omitempty"`
	BuyerPreparedTx  *string `json:"buyer_prepared_tx,omitempty"`
	SellerDelegTxRef *string `json:"seller_deleg_tx_ref,omitempty"`
	BuyerPayTxRef    *string `json:"buyer_pay_tx_ref,omitempty"`
	SettleTxRef      *string `json:"settle_tx_ref,omitempty"`
	Status           string  `json:"status" enum:"draft,open,locked,done,cancelled,failed,expired"`
	Reason           string  `json:"reason,omitempty"`
	ExpiresAt        string  `json:"expires_at" format:"date-time"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
	UpdatedAt        string  `json:"updated_at" format:"date-time"`
}

// TransferIntent is a direct ownership transfer with no counterparty
// delegation.
type TransferIntent struct {
	ID         string  `json:"id"`
	Owner      string  `json:"owner"`
	Wallet     string  `json:"wallet"`
	Asset      string  `json:"asset"`
	Recipient  string  `json:"recipient"`
	PreparedTx string  `json:"prepared_tx"`
	TxRef      *string `json:"tx_ref,omitempty"`
	Status     string  `json:"status" enum:"prepared,done,failed"`
	Reason     string  `json:"reason,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

// WalletLink maps an external wallet address to the identity that first used
// it. First writer wins; an address is never silently re-claimed.
type WalletLink struct {
	Address   string `json:"address"`
	Owner     string `json:"owner"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// IdentitySupply is one row of the supply report: units minted, units held in
// prepared intents, and the configured cap (0 means uncapped).
type IdentitySupply struct {
	Identity  string `json:"identity"`
	Minted    int    `json:"minted"`
	Reserved  int    `json:"reserved"`
	MaxSupply int    `json:"max_supply"`
}
