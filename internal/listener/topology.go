package listener

import "github.com/lugondev/go-chat-relay-web3/pkg/models"

// Topology is the structural kind of a chat
type Topology int

const (
	TopologyGroup Topology = iota
	TopologyForum
	TopologyLinked
)

func (t Topology) String() string {
	switch t {
	case TopologyForum:
		return "forum"
	case TopologyLinked:
		return "linked"
	default:
		return "group"
	}
}

// DefaultType is the scan type used when a rule declares none
func (t Topology) DefaultType() string {
	if t == TopologyGroup {
		return models.ScanTypeScan
	}
	return models.ScanTypeBot
}

// TopologyOf classifies a chat. Forum wins over linked; direct chats are groups.
func TopologyOf(chat *models.Chat) Topology {
	switch {
	case chat.Forum:
		return TopologyForum
	case chat.IsLinked():
		return TopologyLinked
	default:
		return TopologyGroup
	}
}
