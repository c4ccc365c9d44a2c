package command

import (
	"fmt"

	"github.com/energizer-project/lockstep/internal/wire"
)

// Service answer codes carried in ServiceBody.Number.
const (
	ServiceDenied uint32 = 0
	ServiceOK     uint32 = 1
)

// ClientInfo describes one connection in a client list answer.
type ClientInfo struct {
	ID             uint32
	State          uint8
	Address        string
	Nickname       string
	PlayerUnlocked uint16
}

func (i *ClientInfo) rdwr(c *wire.Cursor) {
	c.Uint32(&i.ID)
	c.Uint8(&i.State)
	c.String(&i.Address)
	c.String(&i.Nickname)
	c.Uint16(&i.PlayerUnlocked)
}

// CompanyInfo describes one player company in a company list answer.
type CompanyInfo struct {
	PlayerNr uint8
	Name     string
	Locked   bool
}

func (i *CompanyInfo) rdwr(c *wire.Cursor) {
	c.Uint8(&i.PlayerNr)
	c.String(&i.Name)
	c.Bool(&i.Locked)
}

// ServiceBody is the administration command. Op selects which of the list
// payloads follow the common Number and Text fields.
type ServiceBody struct {
	Op     ServiceOp
	Number uint32
	Text   string

	Clients   []ClientInfo
	Blacklist []string
	Companies []CompanyInfo
}

func (*ServiceBody) ID() ID { return Service }

func (b *ServiceBody) rdwr(c *wire.Cursor) {
	op := uint32(b.Op)
	c.Uint32(&op)
	b.Op = ServiceOp(op)
	c.Uint32(&b.Number)
	c.String(&b.Text)

	switch b.Op {
	case OpGetClientList:
		b.Clients = rdwrList(c, b.Clients, (*ClientInfo).rdwr)
	case OpGetBlackList:
		b.Blacklist = rdwrList(c, b.Blacklist, func(s *string, c *wire.Cursor) { c.String(s) })
	case OpGetCompanyList, OpGetCompanyInfo:
		b.Companies = rdwrList(c, b.Companies, (*CompanyInfo).rdwr)
	}
}

func (b *ServiceBody) validate() error {
	if b.Op >= OpCount {
		return fmt.Errorf("%w: %d", ErrUnknownOperation, uint32(b.Op))
	}
	return nil
}

// rdwrList transfers a uint32 count followed by the entries. On load the
// loop stops at the first overflow, so a forged count cannot allocate more
// entries than the packet holds.
func rdwrList[T any](c *wire.Cursor, list []T, fn func(*T, *wire.Cursor)) []T {
	n := uint32(len(list))
	c.Uint32(&n)
	if c.Saving() {
		for i := range list {
			fn(&list[i], c)
		}
		return list
	}
	var out []T
	for i := uint32(0); i < n && !c.Overflow(); i++ {
		var entry T
		fn(&entry, c)
		out = append(out, entry)
	}
	return out
}
