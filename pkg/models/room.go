package models

// Room is the full record kept per room by the room state store. The playback
// fields are flattened into the same JSON object as the membership fields.
type Room struct {
	ID          string           `json:"roomId"`
	Name        string           `json:"roomName"`
	CreatorID   string           `json:"creatorId"`
	MaxMembers  int              `json:"maxMembers"`
	Members     map[string]int64 `json:"members"` // user ID -> joined at (unix millis)
	CreatedAt   int64            `json:"createdAt"`
	LastUpdated int64            `json:"lastUpdated"`

	RoomState
}

// MemberCount returns the number of members currently in the room
func (r *Room) MemberCount() int {
	return len(r.Members)
}

// HasMember reports whether userID is a member of the room
func (r *Room) HasMember(userID string) bool {
	_, ok := r.Members[userID]
	return ok
}

// Clone returns a deep copy of the room record
func (r Room) Clone() Room {
	if r.Members != nil {
		members := make(map[string]int64, len(r.Members))
		for id, joined := range r.Members {
			members[id] = joined
		}
		r.Members = members
	}
	r.RoomState = r.RoomState.Clone()
	return r
}

// RoomPatch is a partial update merged field by field into a Room. Nil fields
// are left untouched.
type RoomPatch struct {
	CurrentSong *Song    `json:"currentSong,omitempty"`
	ClearSong   bool     `json:"clearSong,omitempty"`
	IsPlaying   *bool    `json:"isPlaying,omitempty"`
	CurrentTime *float64 `json:"currentTime,omitempty"`
	Timestamp   *int64   `json:"timestamp,omitempty"`
	Playlist    *[]Song  `json:"playlist,omitempty"`

	Name       *string `json:"roomName,omitempty"`
	MaxMembers *int    `json:"maxMembers,omitempty"`
}

// IsEmpty reports whether applying the patch would change nothing
func (p RoomPatch) IsEmpty() bool {
	return p.CurrentSong == nil && !p.ClearSong && p.IsPlaying == nil &&
		p.CurrentTime == nil && p.Timestamp == nil && p.Playlist == nil &&
		p.Name == nil && p.MaxMembers == nil
}

// ApplyTo merges the patch into room
func (p RoomPatch) ApplyTo(room *Room) {
	if p.ClearSong {
		room.CurrentSong = nil
	}
	if p.CurrentSong != nil {
		song := *p.CurrentSong
		room.CurrentSong = &song
	}
	if p.IsPlaying != nil {
		room.IsPlaying = *p.IsPlaying
	}
	if p.CurrentTime != nil {
		room.CurrentTime = *p.CurrentTime
	}
	if p.Timestamp != nil {
		room.Timestamp = *p.Timestamp
	}
	if p.Playlist != nil {
		room.Playlist = append([]Song{}, (*p.Playlist)...)
	}
	if p.Name != nil {
		room.Name = *p.Name
	}
	if p.MaxMembers != nil {
		room.MaxMembers = *p.MaxMembers
	}
}

// Play returns a patch that starts playback at position
func Play(position float64) RoomPatch {
	playing := true
	return RoomPatch{IsPlaying: &playing, CurrentTime: &position}
}

// Pause returns a patch that pauses playback at position
func Pause(position float64) RoomPatch {
	playing := false
	return RoomPatch{IsPlaying: &playing, CurrentTime: &position}
}

// Seek returns a patch that moves playback to position without touching transport
func Seek(position float64) RoomPatch {
	return RoomPatch{CurrentTime: &position}
}

// ChangeSong returns a patch that loads song from the start
func ChangeSong(song Song, autoplay bool) RoomPatch {
	start := 0.0
	return RoomPatch{CurrentSong: &song, IsPlaying: &autoplay, CurrentTime: &start}
}
