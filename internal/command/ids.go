package command

import "fmt"

// ID is the wire discriminator of a command, carried in the packet header.
type ID uint16

const (
	Invalid ID = iota
	GameInfo
	Nick
	Chat
	Join
	Sync
	Game
	Ready
	Tool
	Check
	PaksetInfo
	Service
	AuthPlayer
	ChangePlayer
	Scenario
	ScenarioRules
	Step
	Count
)

var idNames = map[ID]string{
	Invalid:       "invalid",
	GameInfo:      "gameinfo",
	Nick:          "nick",
	Chat:          "chat",
	Join:          "join",
	Sync:          "sync",
	Game:          "game",
	Ready:         "ready",
	Tool:          "tool",
	Check:         "check",
	PaksetInfo:    "pakset_info",
	Service:       "service",
	AuthPlayer:    "auth_player",
	ChangePlayer:  "change_player",
	Scenario:      "scenario",
	ScenarioRules: "scenario_rules",
	Step:          "step",
}

// String returns the lowercase name of the command id.
func (id ID) String() string {
	if name, ok := idNames[id]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint16(id))
}

// ServiceOp is the second-level discriminator carried by a service command.
type ServiceOp uint32

const (
	OpLoginAdmin ServiceOp = iota
	OpAnnounceServer
	OpGetClientList
	OpKickClient
	OpBanClient
	OpGetBlackList
	OpBanIP
	OpUnbanIP
	OpAdminMsg
	OpShutdown
	OpForceSync
	OpGetCompanyList
	OpGetCompanyInfo
	OpUnlockCompany
	OpRemoveCompany
	OpLockCompany
	OpCount
)

var opNames = [...]string{
	OpLoginAdmin:     "login_admin",
	OpAnnounceServer: "announce_server",
	OpGetClientList:  "get_client_list",
	OpKickClient:     "kick_client",
	OpBanClient:      "ban_client",
	OpGetBlackList:   "get_black_list",
	OpBanIP:          "ban_ip",
	OpUnbanIP:        "unban_ip",
	OpAdminMsg:       "admin_msg",
	OpShutdown:       "shutdown",
	OpForceSync:      "force_sync",
	OpGetCompanyList: "get_company_list",
	OpGetCompanyInfo: "get_company_info",
	OpUnlockCompany:  "unlock_company",
	OpRemoveCompany:  "remove_company",
	OpLockCompany:    "lock_company",
}

func (op ServiceOp) String() string {
	if op < OpCount {
		return opNames[op]
	}
	return fmt.Sprintf("unknown(%d)", uint32(op))
}
