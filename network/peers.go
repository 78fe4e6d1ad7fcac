package network

import (
	"sync"

	"github.com/PlatformNetwork/subnet-validator/ids"
)

// PeerIndex is the validator <-> peer-transport-id cross-index (spec.md
// §4.E step 9, §9). The original source left the reverse index dirty on
// overwrite; this implementation cleans both directions on every
// reassociation so neither map can hold a stale entry.
type PeerIndex struct {
	mu         sync.RWMutex
	peerToHK   map[string]ids.Hotkey
	hkToPeer   map[ids.Hotkey]string
}

// NewPeerIndex constructs an empty PeerIndex.
func NewPeerIndex() *PeerIndex {
	return &PeerIndex{
		peerToHK: make(map[string]ids.Hotkey),
		hkToPeer: make(map[ids.Hotkey]string),
	}
}

// Associate records that peerID belongs to hotkey, evicting any stale
// reverse mapping first: if peerID was previously bound to a different
// hotkey, that hotkey's forward entry is removed too, and if hotkey was
// previously bound to a different peerID, that peerID's reverse entry is
// removed too. This keeps both maps mutually consistent at all times.
func (p *PeerIndex) Associate(peerID string, hotkey ids.Hotkey) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if oldHotkey, ok := p.peerToHK[peerID]; ok && oldHotkey != hotkey {
		if p.hkToPeer[oldHotkey] == peerID {
			delete(p.hkToPeer, oldHotkey)
		}
	}
	if oldPeer, ok := p.hkToPeer[hotkey]; ok && oldPeer != peerID {
		if p.peerToHK[oldPeer] == hotkey {
			delete(p.peerToHK, oldPeer)
		}
	}

	p.peerToHK[peerID] = hotkey
	p.hkToPeer[hotkey] = peerID
}

// HotkeyForPeer returns the hotkey associated with peerID, if any.
func (p *PeerIndex) HotkeyForPeer(peerID string) (ids.Hotkey, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	hk, ok := p.peerToHK[peerID]
	return hk, ok
}

// PeerForHotkey returns the transport peer id associated with hotkey, if
// any.
func (p *PeerIndex) PeerForHotkey(hotkey ids.Hotkey) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	peerID, ok := p.hkToPeer[hotkey]
	return peerID, ok
}

// Remove drops any association for peerID, cleaning both directions.
func (p *PeerIndex) Remove(peerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	hk, ok := p.peerToHK[peerID]
	if !ok {
		return
	}
	delete(p.peerToHK, peerID)
	if p.hkToPeer[hk] == peerID {
		delete(p.hkToPeer, hk)
	}
}

// Len returns the number of distinct peer associations.
func (p *PeerIndex) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.peerToHK)
}
