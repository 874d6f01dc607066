package pipeline

import (
	"context"
	"errors"
	"os"

	"github.com/specloom/loom/internal/receipt"
)

// Clean removes generated artifacts and transient run metadata. The
// outputs to remove come from the last receipt when one exists, falling
// back to the manifest's declared outputs. With keepReceipt the receipt
// survives so a later sync can still plan incrementally against it.
func (p *Pipeline) Clean(ctx context.Context, keepReceipt bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lock, err := p.Store.AcquireLock(p.Config.LockTTL(), p.Config.LockMaxWait())
	if err != nil {
		return err
	}
	defer lock.Release()

	outputs := p.Manifest.OutputPaths()
	rec, err := receipt.Load(p.Store.ReceiptPath())
	switch {
	case err == nil:
		outputs = outputs[:0]
		for out := range rec.Outputs {
			outputs = append(outputs, out)
		}
	case errors.Is(err, receipt.ErrNoReceipt):
		// Nothing recorded; the manifest's declared outputs stand in.
	default:
		return err
	}

	if err := p.Store.RemoveOutputs(outputs); err != nil {
		return err
	}
	if err := p.Store.ClearRunState(); err != nil {
		return err
	}
	if err := os.RemoveAll(p.Store.StagingDir()); err != nil {
		return err
	}
	if !keepReceipt {
		if err := os.Remove(p.Store.ReceiptPath()); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
