package routing

import (
	"sync"
)

// SubscriptionTree indexes subscriptions for fast peer lookup. The
// outer level is keyed by message type; per type, a token trie branches
// on literal tokens with a distinguished "*" branch and terminal "#"
// markers. Static and dynamic subscriptions are held in separate
// sub-trees so static-only lookups skip dynamic state entirely.
//
// The tree is safe for concurrent readers with serialized writers.
type SubscriptionTree struct {
	mu      sync.RWMutex
	static  map[MessageTypeID]*typeTree
	dynamic map[MessageTypeID]*typeTree
}

// NewSubscriptionTree creates an empty tree.
func NewSubscriptionTree() *SubscriptionTree {
	return &SubscriptionTree{
		static:  make(map[MessageTypeID]*typeTree),
		dynamic: make(map[MessageTypeID]*typeTree),
	}
}

// typeTree indexes the binding keys of one message type.
type typeTree struct {
	// matchAll holds peers subscribed with the empty binding key; the
	// empty subscription is a terminal attached at the root.
	matchAll peerCounts
	root     *treeNode
}

type treeNode struct {
	children map[string]*treeNode
	star     *treeNode
	// sharpPeers terminate a key whose next token was "#".
	sharpPeers peerCounts
	// terminalPeers terminate a key of exactly this depth.
	terminalPeers peerCounts
}

// peerCounts reference-counts identical subscriptions so that add and
// remove stay symmetric.
type peerCounts map[PeerID]int

func (pc peerCounts) add(id PeerID) peerCounts {
	if pc == nil {
		pc = make(peerCounts)
	}
	pc[id]++
	return pc
}

func (pc peerCounts) remove(id PeerID) {
	if pc == nil {
		return
	}
	if pc[id] <= 1 {
		delete(pc, id)
		return
	}
	pc[id]--
}

func newTreeNode() *treeNode {
	return &treeNode{}
}

func (n *treeNode) isEmpty() bool {
	return len(n.children) == 0 && n.star == nil &&
		len(n.sharpPeers) == 0 && len(n.terminalPeers) == 0
}

// Add indexes a subscription for a peer. Dynamic subscriptions go to
// the dynamic sub-tree.
func (t *SubscriptionTree) Add(peerID PeerID, sub Subscription, dynamic bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	trees := t.static
	if dynamic {
		trees = t.dynamic
	}
	tree, ok := trees[sub.MessageTypeID]
	if !ok {
		tree = &typeTree{root: newTreeNode()}
		trees[sub.MessageTypeID] = tree
	}

	if sub.BindingKey.IsEmpty() {
		tree.matchAll = tree.matchAll.add(peerID)
		return
	}

	node := tree.root
	parts := sub.BindingKey.parts
	for i, token := range parts {
		if token == TokenSharp && i == len(parts)-1 {
			node.sharpPeers = node.sharpPeers.add(peerID)
			return
		}
		node = node.descend(token, true)
	}
	node.terminalPeers = node.terminalPeers.add(peerID)
}

// Remove un-indexes a subscription for a peer, pruning nodes left
// empty. Removing a subscription that was never added is a no-op.
func (t *SubscriptionTree) Remove(peerID PeerID, sub Subscription, dynamic bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	trees := t.static
	if dynamic {
		trees = t.dynamic
	}
	tree, ok := trees[sub.MessageTypeID]
	if !ok {
		return
	}

	if sub.BindingKey.IsEmpty() {
		tree.matchAll.remove(peerID)
	} else {
		removeFromNode(tree.root, peerID, sub.BindingKey.parts)
	}

	if len(tree.matchAll) == 0 && tree.root.isEmpty() {
		delete(trees, sub.MessageTypeID)
	}
}

// RemovePeer drops every subscription of a peer from one or both
// sub-trees. Used when a peer is decommissioned.
func (t *SubscriptionTree) RemovePeer(peerID PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, trees := range []map[MessageTypeID]*typeTree{t.static, t.dynamic} {
		for typeID, tree := range trees {
			delete(tree.matchAll, peerID)
			purgePeer(tree.root, peerID)
			if len(tree.matchAll) == 0 && tree.root.isEmpty() {
				delete(trees, typeID)
			}
		}
	}
}

// PeersHandling returns the deduplicated peers whose subscriptions
// match the given type and routing content. When includeDynamic is
// false only the static sub-tree is consulted.
func (t *SubscriptionTree) PeersHandling(typeID MessageTypeID, content RoutingContent, includeDynamic bool) []PeerID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	found := make(map[PeerID]struct{})
	if tree, ok := t.static[typeID]; ok {
		tree.collect(content, found)
	}
	if includeDynamic {
		if tree, ok := t.dynamic[typeID]; ok {
			tree.collect(content, found)
		}
	}

	if len(found) == 0 {
		return nil
	}
	peers := make([]PeerID, 0, len(found))
	for id := range found {
		peers = append(peers, id)
	}
	return peers
}

func (n *treeNode) descend(token string, create bool) *treeNode {
	if token == TokenStar {
		if n.star == nil && create {
			n.star = newTreeNode()
		}
		return n.star
	}
	child, ok := n.children[token]
	if !ok && create {
		child = newTreeNode()
		if n.children == nil {
			n.children = make(map[string]*treeNode)
		}
		n.children[token] = child
	}
	if !ok && !create {
		return nil
	}
	return child
}

// removeFromNode walks the key path, removes the terminal peer entry
// and reports whether the subtree became empty so the caller can prune.
func removeFromNode(node *treeNode, peerID PeerID, parts []string) bool {
	if node == nil {
		return false
	}
	token := parts[0]
	if token == TokenSharp && len(parts) == 1 {
		node.sharpPeers.remove(peerID)
		return node.isEmpty()
	}
	if len(parts) == 1 {
		child := node.descend(token, false)
		if child == nil {
			return node.isEmpty()
		}
		child.terminalPeers.remove(peerID)
		pruneChild(node, token, child)
		return node.isEmpty()
	}
	child := node.descend(token, false)
	if child == nil {
		return node.isEmpty()
	}
	if removeFromNode(child, peerID, parts[1:]) {
		pruneChild(node, token, child)
	}
	return node.isEmpty()
}

func pruneChild(parent *treeNode, token string, child *treeNode) {
	if !child.isEmpty() {
		return
	}
	if token == TokenStar {
		parent.star = nil
		return
	}
	delete(parent.children, token)
}

// purgePeer removes a peer from every terminal in the subtree and
// prunes emptied nodes bottom-up.
func purgePeer(node *treeNode, peerID PeerID) {
	if node == nil {
		return
	}
	delete(node.sharpPeers, peerID)
	delete(node.terminalPeers, peerID)
	for token, child := range node.children {
		purgePeer(child, peerID)
		pruneChild(node, token, child)
	}
	if node.star != nil {
		purgePeer(node.star, peerID)
		pruneChild(node, TokenStar, node.star)
	}
}

// collect gathers matching peers for one type's sub-tree.
func (tt *typeTree) collect(content RoutingContent, found map[PeerID]struct{}) {
	for id := range tt.matchAll {
		found[id] = struct{}{}
	}
	collectFromNode(tt.root, content, 0, found)
}

func collectFromNode(node *treeNode, content RoutingContent, depth int, found map[PeerID]struct{}) {
	if node == nil {
		return
	}
	// "#" matches any remainder including the empty one.
	for id := range node.sharpPeers {
		found[id] = struct{}{}
	}
	if depth == content.PartCount() {
		for id := range node.terminalPeers {
			found[id] = struct{}{}
		}
		return
	}
	token := content.Part(depth)
	if child, ok := node.children[token]; ok {
		collectFromNode(child, content, depth+1, found)
	}
	if node.star != nil {
		collectFromNode(node.star, content, depth+1, found)
	}
}
