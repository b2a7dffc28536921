package twi

import (
	"context"
	"fmt"
	"time"

	"github.com/mklimuk/deskclock"
)

// transaction is the in-flight state of one composite operation. It only
// exists while the bus is held.
type transaction struct {
	ctx     context.Context
	hw      Hardware
	opts    *Opts
	address deskclock.Address
	phase   deskclock.Phase
	master  bool
}

// start asserts a start condition, or a repeated start when the bus is
// already owned, and sends the address byte.
func (t *transaction) start(dir deskclock.Direction) error {
	if t.master {
		t.phase = deskclock.PhaseRestart
		t.hw.SetTransmit(true)
		t.hw.RepeatedStart()
	} else {
		t.phase = deskclock.PhaseAddress
		t.hw.SetTransmit(true)
		t.hw.SetMaster(true)
		t.master = true
	}
	t.hw.WriteData(deskclock.AddressByte(t.address, dir))
	return t.await(true)
}

func (t *transaction) writeByte(b byte) error {
	t.hw.WriteData(b)
	return t.await(true)
}

// readByte returns the byte latched by the previous transfer and clocks in
// the next one, NACKing it when nackNext is set.
func (t *transaction) readByte(nackNext bool) (byte, error) {
	t.hw.SetNack(nackNext)
	b := t.hw.ReadData()
	if err := t.await(false); err != nil {
		return 0, err
	}
	return b, nil
}

// write addresses the device for writing and sends every byte of buf.
func (t *transaction) write(buf []byte) error {
	if err := t.start(deskclock.Write); err != nil {
		return err
	}
	t.phase = deskclock.PhaseWrite
	for _, b := range buf {
		if err := t.writeByte(b); err != nil {
			return err
		}
	}
	return nil
}

// read addresses the device for reading and fills out. The first data
// register read after switching to receive is a throwaway: it only starts
// the first transfer. Only the transfer of the final byte is NACKed, and the
// stop is issued before that byte is taken out of the data register so the
// device is not clocked again.
func (t *transaction) read(out []byte) error {
	if err := t.start(deskclock.Read); err != nil {
		return err
	}
	t.phase = deskclock.PhaseRead
	t.hw.SetTransmit(false)
	n := len(out)
	if _, err := t.readByte(n == 1); err != nil {
		return err
	}
	for i := 0; i < n-1; i++ {
		b, err := t.readByte(i+1 == n-1)
		if err != nil {
			return err
		}
		out[i] = b
	}
	if err := t.stop(); err != nil {
		return err
	}
	out[n-1] = t.hw.ReadData()
	return nil
}

// await polls for the transfer-complete event and clears it. The loop is
// bounded both by the attempt count and by the context deadline.
func (t *transaction) await(checkAck bool) error {
	for i := 0; i < t.opts.PollAttempts; i++ {
		status := t.hw.Status()
		if status.Has(StatusEvent) {
			t.hw.ClearEvent()
			if checkAck && status.Has(StatusNack) {
				return deskclock.ErrNack
			}
			return nil
		}
		if err := t.ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", deskclock.ErrBusTimeout, err)
		}
		if t.opts.PollInterval > 0 {
			time.Sleep(t.opts.PollInterval)
		}
	}
	return fmt.Errorf("%w: no event after %d polls", deskclock.ErrBusTimeout, t.opts.PollAttempts)
}

// stop releases master mode, waits for the bus to go idle and lets the
// peripheral settle. It is a no-op when the bus is not owned.
func (t *transaction) stop() error {
	if !t.master {
		return nil
	}
	t.master = false
	t.hw.SetMaster(false)
	t.hw.SetTransmit(false)
	t.hw.SetNack(false)
	released := false
	for i := 0; i < t.opts.PollAttempts; i++ {
		if !t.hw.Status().Has(StatusBusy) {
			released = true
			break
		}
	}
	if !released {
		return fmt.Errorf("%w: bus still busy after stop", deskclock.ErrBusTimeout)
	}
	if t.opts.SettleDelay > 0 {
		time.Sleep(t.opts.SettleDelay)
	}
	return nil
}
