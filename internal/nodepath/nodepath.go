// Package nodepath parses and builds the "/NodeList/<n>/..." context paths
// used to address nodes in the simulated network. Node 0 is the access
// point; stations are numbered from 1.
package nodepath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Wildcard addresses every node.
	Wildcard = "*"

	listSegment = "NodeList"

	// txopSuffix locates the best-effort TXOP of a node's Wi-Fi MAC.
	txopSuffix = "/DeviceList/*/$ns3::WifiNetDevice/Mac/BE_Txop"
	// macTxSuffix is the trace source for MAC transmissions.
	macTxSuffix = "/DeviceList/0/$ns3::WifiNetDevice/Mac/MacTx"
	// phyDropSuffix is the trace source for PHY transmit drops.
	phyDropSuffix = "/DeviceList/0/$ns3::WifiNetDevice/Phy/PhyTxDrop"
)

// ErrMalformed is returned when a path does not carry a node index.
var ErrMalformed = errors.New("malformed node path")

// NodeIndex extracts the node index from a context path such as
// "/NodeList/3/DeviceList/0/$ns3::WifiNetDevice/Mac/MacTx".
func NodeIndex(path string) (int, error) {
	parts := strings.Split(path, "/")
	// parts[0] is the empty string before the leading slash.
	if len(parts) < 3 || parts[1] != listSegment {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, path)
	}
	idx, err := strconv.Atoi(parts[2])
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, path)
	}
	return idx, nil
}

// IsWildcard reports whether path addresses every node.
func IsWildcard(path string) bool {
	parts := strings.Split(path, "/")
	return len(parts) >= 3 && parts[1] == listSegment && parts[2] == Wildcard
}

// TxopAll is the scope path of the best-effort TXOP on every node.
func TxopAll() string {
	return "/" + listSegment + "/" + Wildcard + txopSuffix
}

// Txop is the scope path of the best-effort TXOP on a single node.
func Txop(node int) string {
	return "/" + listSegment + "/" + strconv.Itoa(node) + txopSuffix
}

// MacTx is the MAC transmit trace context of a node.
func MacTx(node int) string {
	return "/" + listSegment + "/" + strconv.Itoa(node) + macTxSuffix
}

// PhyTxDrop is the PHY drop trace context of a node.
func PhyTxDrop(node int) string {
	return "/" + listSegment + "/" + strconv.Itoa(node) + phyDropSuffix
}
