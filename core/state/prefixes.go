package state

import (
	"encoding/binary"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"lendcore/crypto"
)

// Key namespaces. Every record key is the keccak hash of its namespace plus
// identifier, giving fixed-width keys regardless of mint symbol or address
// encoding.
var (
	prefixBank      = []byte("lending/bank/")
	prefixPosition  = []byte("lending/position/")
	prefixSnapshot  = []byte("lending/snapshot/")
	prefixAccount   = []byte("lending/account/")
	prefixBorrowers = []byte("lending/borrowers/")
)

func hashKey(prefix []byte, parts ...[]byte) []byte {
	data := append([]byte(nil), prefix...)
	for _, part := range parts {
		data = append(data, part...)
	}
	return gethcrypto.Keccak256(data)
}

func bankKey(mint string) []byte {
	return hashKey(prefixBank, []byte(mint))
}

func positionKey(owner crypto.Address) []byte {
	return hashKey(prefixPosition, []byte(owner.Prefix()), owner.Bytes())
}

func snapshotKey(owner crypto.Address, sequence uint64) []byte {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], sequence)
	return hashKey(prefixSnapshot, []byte(owner.Prefix()), owner.Bytes(), seq[:])
}

func accountKey(addr crypto.Address) []byte {
	return hashKey(prefixAccount, []byte(addr.Prefix()), addr.Bytes())
}

func borrowerIndexKey(mint string) []byte {
	return hashKey(prefixBorrowers, []byte(mint))
}
