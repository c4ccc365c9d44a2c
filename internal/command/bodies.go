package command

import "github.com/energizer-project/lockstep/internal/wire"

// PlayerAll addresses every player slot.
const PlayerAll uint8 = 0xFF

// MaxPlayers is the number of player slots a connection can unlock.
const MaxPlayers = 16

// WorldStamp ties a command to a simulation step. It travels right after
// the client id of every world command.
type WorldStamp struct {
	SyncStep   uint32
	MapCounter uint32
}

func (s *WorldStamp) stamp() *WorldStamp { return s }

func (s *WorldStamp) rdwr(c *wire.Cursor) {
	c.Uint32(&s.SyncStep)
	c.Uint32(&s.MapCounter)
}

// Checklist is the set of simulation fingerprints peers compare to detect a
// desync.
type Checklist struct {
	Random      uint32
	HaltEntry   uint32
	LineEntry   uint32
	ConvoyEntry uint32
}

func (l *Checklist) rdwr(c *wire.Cursor) {
	c.Uint32(&l.Random)
	c.Uint32(&l.HaltEntry)
	c.Uint32(&l.LineEntry)
	c.Uint32(&l.ConvoyEntry)
}

// Pos is a map position.
type Pos struct {
	X, Y int16
	Z    int8
}

func (p *Pos) rdwr(c *wire.Cursor) {
	c.Int16(&p.X)
	c.Int16(&p.Y)
	c.Int8(&p.Z)
}

// GameInfoBody announces the size of the game info blob that follows.
type GameInfoBody struct {
	Len    uint32
	Result uint8
}

func (*GameInfoBody) ID() ID { return GameInfo }

func (b *GameInfoBody) rdwr(c *wire.Cursor) {
	c.Uint32(&b.Len)
	c.Uint8(&b.Result)
}

// NickBody changes the sender's nickname.
type NickBody struct {
	Nickname string
}

func (*NickBody) ID() ID { return Nick }

func (b *NickBody) rdwr(c *wire.Cursor) {
	c.String(&b.Nickname)
}

// ChatBody carries a chat line. An empty Destination is a public message.
type ChatBody struct {
	Message     string
	PlayerNr    uint8
	ClientName  string
	Destination string
}

func (*ChatBody) ID() ID { return Chat }

func (b *ChatBody) rdwr(c *wire.Cursor) {
	c.String(&b.Message)
	c.Uint8(&b.PlayerNr)
	c.String(&b.ClientName)
	c.String(&b.Destination)
}

// JoinBody is the join request (Answer == 0) and the server's answer
// carrying the assigned client id (Answer != 0).
type JoinBody struct {
	Nickname string
	ClientID uint32
	Answer   uint8
}

func (*JoinBody) ID() ID { return Join }

func (b *JoinBody) rdwr(c *wire.Cursor) {
	c.String(&b.Nickname)
	c.Uint32(&b.ClientID)
	c.Uint8(&b.Answer)
}

// SyncBody tells every peer to pause and resynchronize with ClientID.
type SyncBody struct {
	WorldStamp
	ClientID      uint32
	NewMapCounter uint32
}

func (*SyncBody) ID() ID { return Sync }

func (b *SyncBody) rdwr(c *wire.Cursor) {
	c.Uint32(&b.ClientID)
	c.Uint32(&b.NewMapCounter)
}

// GameBody announces the size of the savegame transfer that follows.
type GameBody struct {
	Len uint32
}

func (*GameBody) ID() ID { return Game }

func (b *GameBody) rdwr(c *wire.Cursor) {
	c.Uint32(&b.Len)
}

// ReadyBody reports that a client finished loading the game at SyncStep.
type ReadyBody struct {
	SyncStep   uint32
	MapCounter uint32
	Checklist  Checklist
}

func (*ReadyBody) ID() ID { return Ready }

func (b *ReadyBody) rdwr(c *wire.Cursor) {
	c.Uint32(&b.SyncStep)
	c.Uint32(&b.MapCounter)
	b.Checklist.rdwr(c)
}

// ToolBody replicates one tool invocation.
type ToolBody struct {
	WorldStamp
	PlayerNr     uint8
	ToolID       uint16
	Pos          Pos
	DefaultParam string
	Init         bool
	CallbackID   uint32
	Flags        uint8
}

func (*ToolBody) ID() ID { return Tool }

func (b *ToolBody) rdwr(c *wire.Cursor) {
	c.Uint8(&b.PlayerNr)
	c.Uint16(&b.ToolID)
	b.Pos.rdwr(c)
	c.String(&b.DefaultParam)
	c.Bool(&b.Init)
	c.Uint32(&b.CallbackID)
	c.Uint8(&b.Flags)
}

// CheckBody carries the server's checklist for a past sync step.
type CheckBody struct {
	WorldStamp
	ServerSyncStep  uint32
	ServerChecklist Checklist
}

func (*CheckBody) ID() ID { return Check }

func (b *CheckBody) rdwr(c *wire.Cursor) {
	c.Uint32(&b.ServerSyncStep)
	b.ServerChecklist.rdwr(c)
}

// PaksetInfoBody exchanges the asset-set checksum.
type PaksetInfoBody struct {
	Flag     uint8
	Name     string
	Checksum [20]byte
}

func (*PaksetInfoBody) ID() ID { return PaksetInfo }

func (b *PaksetInfoBody) rdwr(c *wire.Cursor) {
	c.Uint8(&b.Flag)
	c.String(&b.Name)
	c.Raw(b.Checksum[:])
}

// AuthPlayerBody asks to unlock PlayerNr with Hash; the answer carries the
// resulting unlocked-player mask.
type AuthPlayerBody struct {
	Hash           PasswordHash
	PlayerNr       uint8
	PlayerUnlocked uint16
}

func (*AuthPlayerBody) ID() ID { return AuthPlayer }

func (b *AuthPlayerBody) rdwr(c *wire.Cursor) {
	b.Hash.rdwr(c)
	c.Uint8(&b.PlayerNr)
	c.Uint16(&b.PlayerUnlocked)
}

// ChangePlayerBody creates, removes or reconfigures a player.
type ChangePlayerBody struct {
	WorldStamp
	Cmd      uint8
	PlayerNr uint8
	Param    uint16
	Scripted bool
}

func (*ChangePlayerBody) ID() ID { return ChangePlayer }

func (b *ChangePlayerBody) rdwr(c *wire.Cursor) {
	c.Uint8(&b.Cmd)
	c.Uint8(&b.PlayerNr)
	c.Uint16(&b.Param)
	c.Bool(&b.Scripted)
}

// ScenarioBody carries a scenario script call and its result.
type ScenarioBody struct {
	WorldStamp
	What     uint16
	Function string
	Result   string
}

func (*ScenarioBody) ID() ID { return Scenario }

func (b *ScenarioBody) rdwr(c *wire.Cursor) {
	c.Uint16(&b.What)
	c.String(&b.Function)
	c.String(&b.Result)
}

// ScenarioRulesBody forbids or allows a tool for a player.
type ScenarioRulesBody struct {
	WorldStamp
	ToolID   uint16
	PlayerNr uint8
	Forbid   bool
	Error    string
}

func (*ScenarioRulesBody) ID() ID { return ScenarioRules }

func (b *ScenarioRulesBody) rdwr(c *wire.Cursor) {
	c.Uint16(&b.ToolID)
	c.Uint8(&b.PlayerNr)
	c.Bool(&b.Forbid)
	c.String(&b.Error)
}

// StepBody lets clients advance up to its sync step.
type StepBody struct {
	WorldStamp
}

func (*StepBody) ID() ID { return Step }

func (*StepBody) rdwr(*wire.Cursor) {}
