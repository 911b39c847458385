package appmessage

import (
	"github.com/selfnet/selfd/domain/cascade"
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/util/binaryserializer"
)

// MaxBlocksPerBatch is the maximum number of blocks a batch message may
// carry.
const MaxBlocksPerBatch = 1000

// MsgInitialBatch is sent unsolicited by the accepting side after the
// greetings. Cascade is set only when the receiver reported an empty tree.
type MsgInitialBatch struct {
	baseMessage
	Cascade *cascade.Snapshot
	Blocks  []*txpow.TxBlock
}

// Command returns the protocol command string for the message
func (msg *MsgInitialBatch) Command() MessageCommand {
	return CmdInitialBatch
}

func (msg *MsgInitialBatch) encode(writer *binaryserializer.Writer) {
	writer.Bool(msg.Cascade != nil)
	if msg.Cascade != nil {
		cascade.WriteSnapshot(writer, msg.Cascade)
	}
	writeBlocks(writer, msg.Blocks)
}

func (msg *MsgInitialBatch) decode(reader *binaryserializer.Reader) {
	if reader.Bool() {
		msg.Cascade = cascade.ReadSnapshot(reader)
	}
	msg.Blocks = readBlocks(reader)
}

// NewMsgInitialBatch returns a new initial batch message
func NewMsgInitialBatch(snapshot *cascade.Snapshot, blocks []*txpow.TxBlock) *MsgInitialBatch {
	return &MsgInitialBatch{
		Cascade: snapshot,
		Blocks:  blocks,
	}
}

// MsgSyncRequest asks for the main-chain blocks strictly above AfterHeight.
type MsgSyncRequest struct {
	baseMessage
	AfterHeight uint64
}

// Command returns the protocol command string for the message
func (msg *MsgSyncRequest) Command() MessageCommand {
	return CmdSyncRequest
}

func (msg *MsgSyncRequest) encode(writer *binaryserializer.Writer) {
	writer.Uint64(msg.AfterHeight)
}

func (msg *MsgSyncRequest) decode(reader *binaryserializer.Reader) {
	msg.AfterHeight = reader.Uint64()
}

// NewMsgSyncRequest returns a new sync request message
func NewMsgSyncRequest(afterHeight uint64) *MsgSyncRequest {
	return &MsgSyncRequest{AfterHeight: afterHeight}
}

// MsgSyncResponse answers a MsgSyncRequest with ascending blocks. An empty
// response means the sender has nothing newer.
type MsgSyncResponse struct {
	baseMessage
	Blocks []*txpow.TxBlock
}

// Command returns the protocol command string for the message
func (msg *MsgSyncResponse) Command() MessageCommand {
	return CmdSyncResponse
}

func (msg *MsgSyncResponse) encode(writer *binaryserializer.Writer) {
	writeBlocks(writer, msg.Blocks)
}

func (msg *MsgSyncResponse) decode(reader *binaryserializer.Reader) {
	msg.Blocks = readBlocks(reader)
}

// NewMsgSyncResponse returns a new sync response message
func NewMsgSyncResponse(blocks []*txpow.TxBlock) *MsgSyncResponse {
	return &MsgSyncResponse{Blocks: blocks}
}

// MsgArchiveRequest asks for archived blocks strictly below BeforeHeight.
type MsgArchiveRequest struct {
	baseMessage
	BeforeHeight uint64
}

// Command returns the protocol command string for the message
func (msg *MsgArchiveRequest) Command() MessageCommand {
	return CmdArchiveRequest
}

func (msg *MsgArchiveRequest) encode(writer *binaryserializer.Writer) {
	writer.Uint64(msg.BeforeHeight)
}

func (msg *MsgArchiveRequest) decode(reader *binaryserializer.Reader) {
	msg.BeforeHeight = reader.Uint64()
}

// NewMsgArchiveRequest returns a new archive request message
func NewMsgArchiveRequest(beforeHeight uint64) *MsgArchiveRequest {
	return &MsgArchiveRequest{BeforeHeight: beforeHeight}
}

// MsgArchiveResponse carries archived blocks in descending height order.
type MsgArchiveResponse struct {
	baseMessage
	Blocks []*txpow.TxBlock
}

// Command returns the protocol command string for the message
func (msg *MsgArchiveResponse) Command() MessageCommand {
	return CmdArchiveResponse
}

func (msg *MsgArchiveResponse) encode(writer *binaryserializer.Writer) {
	writeBlocks(writer, msg.Blocks)
}

func (msg *MsgArchiveResponse) decode(reader *binaryserializer.Reader) {
	msg.Blocks = readBlocks(reader)
}

// NewMsgArchiveResponse returns a new archive response message
func NewMsgArchiveResponse(blocks []*txpow.TxBlock) *MsgArchiveResponse {
	return &MsgArchiveResponse{Blocks: blocks}
}

func writeBlocks(writer *binaryserializer.Writer, blocks []*txpow.TxBlock) {
	writer.Uint32(uint32(len(blocks)))
	for _, block := range blocks {
		txpow.WriteTxBlock(writer, block)
	}
}

func readBlocks(reader *binaryserializer.Reader) []*txpow.TxBlock {
	count := reader.Count(MaxBlocksPerBatch)
	blocks := make([]*txpow.TxBlock, 0, count)
	for i := 0; i < count && reader.Err() == nil; i++ {
		blocks = append(blocks, txpow.ReadTxBlock(reader))
	}
	return blocks
}
