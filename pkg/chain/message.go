package chain

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/stablemesh/cctp-middleware/pkg/store"
)

// messageVersion is the wire format version of transmitter messages.
const messageVersion uint32 = 0

// MessageHash computes the keccak256 digest of a transmitter message built
// from its constituent fields. The packing order matches the on-chain
// encoding: version, source domain, destination domain, nonce, then the
// 32-byte padded sender and recipient, then the message body.
func MessageHash(sourceDomain, destinationDomain uint32, nonce uint64, sender, recipient string, body []byte) string {
	buf := make([]byte, 0, 84+len(body))

	buf = appendUint32(buf, messageVersion)
	buf = appendUint32(buf, sourceDomain)
	buf = appendUint32(buf, destinationDomain)
	buf = binary.BigEndian.AppendUint64(buf, nonce)
	buf = append(buf, addressToBytes32(sender)...)
	buf = append(buf, addressToBytes32(recipient)...)
	buf = append(buf, body...)

	return "0x" + hex.EncodeToString(crypto.Keccak256(buf))
}

func appendUint32(buf []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(buf, v)
}

// addressToBytes32 left-pads a hex address to the 32-byte form used on the
// wire for cross-domain senders and recipients.
func addressToBytes32(addr string) []byte {
	return common.LeftPadBytes(common.FromHex(addr), 32)
}

// HookBody returns the message body bytes for an optional post-mint hook.
// Hookless transfers carry an empty body.
func HookBody(h *store.HookData) []byte {
	if h == nil {
		return nil
	}
	return common.FromHex(h.CallData)
}
