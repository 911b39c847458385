package appmessage

import (
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/util/binaryserializer"
)

// MaxChainIDs bounds the chain summary a greeting may carry.
const MaxChainIDs = 4096

// MaxUserAgentLen is the maximum allowed length for the user agent field.
const MaxUserAgentLen = 256

// MsgGreeting opens every session. Both sides send one. ChainIDs lists the
// sender's main chain from its tip down, continuing into its cascade, and is
// what the receiving side searches for a crossover.
type MsgGreeting struct {
	baseMessage
	ProtocolVersion uint32
	ChainID         uint32
	// Nonce detects connections to self.
	Nonce       uint64
	UserAgent   string
	TipHeight   uint64
	TreeIsEmpty bool
	ChainIDs    []txpow.ID
}

// Command returns the protocol command string for the message
func (msg *MsgGreeting) Command() MessageCommand {
	return CmdGreeting
}

func (msg *MsgGreeting) encode(writer *binaryserializer.Writer) {
	writer.Uint32(msg.ProtocolVersion)
	writer.Uint32(msg.ChainID)
	writer.Uint64(msg.Nonce)
	writer.VarBytes([]byte(msg.UserAgent))
	writer.Uint64(msg.TipHeight)
	writer.Bool(msg.TreeIsEmpty)
	writeIDs(writer, msg.ChainIDs)
}

func (msg *MsgGreeting) decode(reader *binaryserializer.Reader) {
	msg.ProtocolVersion = reader.Uint32()
	msg.ChainID = reader.Uint32()
	msg.Nonce = reader.Uint64()
	msg.UserAgent = string(reader.VarBytes(MaxUserAgentLen))
	msg.TipHeight = reader.Uint64()
	msg.TreeIsEmpty = reader.Bool()
	msg.ChainIDs = readIDs(reader, MaxChainIDs)
}

// NewMsgGreeting returns a new greeting message
func NewMsgGreeting(chainID uint32, nonce uint64, userAgent string, tipHeight uint64,
	treeIsEmpty bool, chainIDs []txpow.ID) *MsgGreeting {

	return &MsgGreeting{
		ProtocolVersion: ProtocolVersion,
		ChainID:         chainID,
		Nonce:           nonce,
		UserAgent:       userAgent,
		TipHeight:       tipHeight,
		TreeIsEmpty:     treeIsEmpty,
		ChainIDs:        chainIDs,
	}
}

func writeIDs(writer *binaryserializer.Writer, ids []txpow.ID) {
	writer.Uint32(uint32(len(ids)))
	for i := range ids {
		writer.Fixed(ids[i][:])
	}
}

func readIDs(reader *binaryserializer.Reader, max uint32) []txpow.ID {
	count := reader.Count(max)
	ids := make([]txpow.ID, count)
	for i := range ids {
		reader.Fixed(ids[i][:])
	}
	return ids
}
