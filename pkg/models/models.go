package models

// Kind tags a content node. The crawl engine only cares whether a kind is a
// container; everything else is resolved through the extractor registry.
type Kind string

const (
	KindRoot             Kind = "root"
	KindCourse           Kind = "course"
	KindProject          Kind = "project"
	KindFolder           Kind = "folder"
	KindMessaging        Kind = "messaging"
	KindInstantMessages  Kind = "instant_messages"
	KindMessageThread    Kind = "message_thread"
	KindMessageFolders   Kind = "message_folders"
	KindMessageFolder    Kind = "message_folder"
	KindMessage          Kind = "message"
	KindBulletins        Kind = "bulletins"
	KindBulletin         Kind = "bulletin"
	KindDiscussion       Kind = "discussion"
	KindDiscussionThread Kind = "discussion_thread"
	KindFile             Kind = "file"
	KindAssignment       Kind = "assignment"
	KindNote             Kind = "note"
	KindWeblink          Kind = "weblink"
	KindLearningTool     Kind = "learning_tool"
	KindTest             Kind = "test"
	KindPicture          Kind = "picture"
	KindOnlineTest       Kind = "online_test"
	KindCustomActivity   Kind = "custom_activity"
	KindUnknown          Kind = "unknown"
)

// IsContainer reports whether nodes of this kind own a child listing
func (k Kind) IsContainer() bool {
	switch k {
	case KindRoot, KindCourse, KindProject, KindFolder, KindDiscussion, KindBulletins,
		KindMessaging, KindInstantMessages, KindMessageFolders, KindMessageFolder:
		return true
	}
	return false
}

// Node is one remote-addressable entity of the content tree
type Node struct {
	RemoteID    string `json:"remote_id"`
	Kind        Kind   `json:"kind"`
	DisplayName string `json:"display_name"`
	// Locator is an opaque request descriptor understood by the lister and
	// the extractors, usually an absolute or site-relative URL
	Locator string `json:"locator"`
	// Inline carries raw bytes that arrived with the listing itself. Listers
	// and extractors work from them instead of fetching the locator; any
	// further request they make is rate limited by themselves.
	Inline []byte `json:"-"`
}

// Local reports whether the node's content arrived with its listing
func (n Node) Local() bool {
	return len(n.Inline) > 0
}

// Label returns the best human readable identity of the node
func (n Node) Label() string {
	if n.DisplayName != "" {
		return n.DisplayName
	}
	if n.RemoteID != "" {
		return n.RemoteID
	}
	return string(n.Kind)
}
