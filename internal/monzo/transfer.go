package monzo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Veraticus/the-pots-must-flow/internal/common"
	"github.com/Veraticus/the-pots-must-flow/internal/money"
	"github.com/Veraticus/the-pots-must-flow/internal/service"
)

// Transfer moves money between the main account and pots. Monzo has no
// pot-to-pot endpoint, so those go through the main account in two legs
// whose dedupe IDs carry "-w" and "-d" suffixes.
func (c *Client) Transfer(ctx context.Context, req service.TransferRequest) error {
	if !req.Amount.IsPositive() {
		return fmt.Errorf("%w: transfer amount must be positive, got %s", common.ErrConfiguration, req.Amount)
	}

	switch {
	case req.From.IsMainAccount() && req.To.IsPot():
		accountID, err := c.resolveAccount(ctx, req.From.ID)
		if err != nil {
			return err
		}
		return c.deposit(ctx, req.To.ID, accountID, req.Amount, req.DedupKey)

	case req.From.IsPot() && req.To.IsMainAccount():
		accountID, err := c.resolveAccount(ctx, req.To.ID)
		if err != nil {
			return err
		}
		return c.withdraw(ctx, req.From.ID, accountID, req.Amount, req.DedupKey)

	case req.From.IsPot() && req.To.IsPot():
		accountID, err := c.DefaultAccountID(ctx)
		if err != nil {
			return err
		}
		if err := c.withdraw(ctx, req.From.ID, accountID, req.Amount, legKey(req.DedupKey, "w")); err != nil {
			return err
		}
		if err := c.deposit(ctx, req.To.ID, accountID, req.Amount, legKey(req.DedupKey, "d")); err != nil {
			c.logger.Error("pot transfer stranded in main account",
				"from", req.From.ID,
				"to", req.To.ID,
				"amount", req.Amount.String(),
				"error", err)
			return fmt.Errorf("withdrawn from %s but deposit to %s failed: %w", req.From, req.To, err)
		}
		return nil

	default:
		return fmt.Errorf("%w: unsupported transfer %s -> %s", common.ErrConfiguration, req.From, req.To)
	}
}

func (c *Client) deposit(ctx context.Context, potID, accountID string, amount money.Money, dedupeID string) error {
	form := url.Values{
		"source_account_id": {accountID},
		"amount":            {strconv.FormatInt(amount.Minor(), 10)},
		"dedupe_id":         {dedupeID},
	}
	if err := c.do(ctx, http.MethodPut, "/pots/"+url.PathEscape(potID)+"/deposit", nil, form, nil); err != nil {
		return fmt.Errorf("failed to deposit %s into pot %s: %w", amount, potID, err)
	}
	c.logger.Info("deposited into pot", "pot_id", potID, "amount", amount.String(), "dedupe_id", dedupeID)
	return nil
}

func (c *Client) withdraw(ctx context.Context, potID, accountID string, amount money.Money, dedupeID string) error {
	form := url.Values{
		"destination_account_id": {accountID},
		"amount":                 {strconv.FormatInt(amount.Minor(), 10)},
		"dedupe_id":              {dedupeID},
	}
	if err := c.do(ctx, http.MethodPut, "/pots/"+url.PathEscape(potID)+"/withdraw", nil, form, nil); err != nil {
		return fmt.Errorf("failed to withdraw %s from pot %s: %w", amount, potID, err)
	}
	c.logger.Info("withdrew from pot", "pot_id", potID, "amount", amount.String(), "dedupe_id", dedupeID)
	return nil
}

func legKey(key, leg string) string {
	if key == "" {
		return ""
	}
	return key + "-" + leg
}
