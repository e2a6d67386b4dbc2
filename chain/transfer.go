package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/shhcash/Shh.Cash-Node/crypto"
	"github.com/shhcash/Shh.Cash-Node/offer"
)

// ErrUnsupportedAsset is returned when a transfer is requested for an asset
// this client has no construction path for.
var ErrUnsupportedAsset = errors.New("chain: unsupported asset")

// Transfer moves amount (in the asset's smallest unit) from the relay wallet
// to recipient, submits the transaction and waits for confirmed commitment.
// The returned rent is the lamports the relay wallet paid to create the
// recipient's token account; it is zero for SOL transfers and for token
// transfers into an existing account.
func (c *Client) Transfer(ctx context.Context, asset offer.AssetKind, from *crypto.Keypair, recipient string, amount uint64) (signature string, rentLamports uint64, err error) {
	if from == nil {
		return "", 0, errors.New("chain: sending keypair required")
	}
	if amount == 0 {
		return "", 0, errors.New("chain: amount must be positive")
	}
	to, err := solana.PublicKeyFromBase58(strings.TrimSpace(recipient))
	if err != nil {
		return "", 0, fmt.Errorf("chain: invalid recipient %q: %w", recipient, err)
	}

	var instructions []solana.Instruction
	switch asset {
	case offer.AssetSOL:
		instructions = []solana.Instruction{
			system.NewTransferInstruction(amount, from.PublicKey(), to).Build(),
		}
	case offer.AssetUSDC:
		instructions, rentLamports, err = c.usdcInstructions(ctx, from.PublicKey(), to, amount)
		if err != nil {
			return "", 0, err
		}
	default:
		return "", 0, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}

	sig, err := c.submit(ctx, instructions, from)
	if err != nil {
		return "", 0, err
	}
	if err := c.awaitConfirmation(ctx, sig); err != nil {
		return "", 0, err
	}
	return sig.String(), rentLamports, nil
}

// usdcInstructions builds the token transfer, prepending an idempotent
// create-account instruction when the recipient has no token account yet.
// Rent for that creation is charged to the sending wallet and reported so
// the node can account it as spend.
func (c *Client) usdcInstructions(ctx context.Context, from, to solana.PublicKey, amount uint64) ([]solana.Instruction, uint64, error) {
	source, _, err := solana.FindAssociatedTokenAddress(from, c.usdcMint)
	if err != nil {
		return nil, 0, fmt.Errorf("chain: derive source token account: %w", err)
	}
	destination, _, err := solana.FindAssociatedTokenAddress(to, c.usdcMint)
	if err != nil {
		return nil, 0, fmt.Errorf("chain: derive recipient token account: %w", err)
	}

	var instructions []solana.Instruction
	var rent uint64
	exists, err := c.accountExists(ctx, destination)
	if err != nil {
		return nil, 0, err
	}
	if !exists {
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(from, to, c.usdcMint).Build())
		rent = c.tokenAccountRent(ctx)
	}
	instructions = append(instructions,
		token.NewTransferInstruction(amount, source, destination, from, nil).Build())
	return instructions, rent, nil
}

// tokenAccountRent resolves the rent-exempt minimum for a token account,
// falling back to the long-stable constant when the lookup fails so spend
// accounting stays close even under RPC trouble.
func (c *Client) tokenAccountRent(ctx context.Context) uint64 {
	rent, err := c.rpc.GetMinimumBalanceForRentExemption(ctx, tokenAccountSize, rpc.CommitmentConfirmed)
	if err != nil || rent == 0 {
		return fallbackTokenAccountRent
	}
	return rent
}

func (c *Client) submit(ctx context.Context, instructions []solana.Instruction, from *crypto.Keypair) (solana.Signature, error) {
	recent, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("chain: fetch blockhash: %w", err)
	}
	if recent == nil || recent.Value == nil {
		return solana.Signature{}, errors.New("chain: empty blockhash response")
	}
	tx, err := solana.NewTransaction(instructions, recent.Value.Blockhash, solana.TransactionPayer(from.PublicKey()))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("chain: build transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(from.PublicKey()) {
			pk := from.PrivateKey()
			return &pk
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("chain: sign transaction: %w", err)
	}
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("chain: submit transaction: %w", err)
	}
	return sig, nil
}

// awaitConfirmation polls signature status until the transaction reaches
// confirmed commitment. The retry budget bounds how long a single execution
// attempt can hang; exhausting it fails this attempt only.
func (c *Client) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	for attempt := 0; attempt < c.confirmRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.confirmInterval):
			}
		}
		out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
			continue
		}
		status := out.Value[0]
		if status.Err != nil {
			return fmt.Errorf("chain: transaction %s failed on-chain: %v", sig, status.Err)
		}
		switch status.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			return nil
		}
	}
	return fmt.Errorf("%w: %s after %d attempts", ErrConfirmationTimeout, sig, c.confirmRetries)
}
