package vmlink

// engineChannel exposes one strip or bus as an AudioEndpoint
type engineChannel struct {
	sessions *SessionManager
	ref      ChannelRef
}

func newEngineChannel(sessions *SessionManager, ref ChannelRef) (*engineChannel, error) {
	if err := sessions.ValidateChannel(ref); err != nil {
		return nil, err
	}

	return &engineChannel{sessions: sessions, ref: ref}, nil
}

func (c *engineChannel) Key() string {
	return "engine." + c.ref.String()
}

func (c *engineChannel) GetVolume() (float64, error) {
	return c.sessions.Volume(c.ref)
}

func (c *engineChannel) SetVolume(percent float64) error {
	return c.sessions.SetVolume(c.ref, percent)
}

func (c *engineChannel) GetMute() (bool, error) {
	return c.sessions.Mute(c.ref)
}

func (c *engineChannel) SetMute(muted bool) error {
	return c.sessions.SetMute(c.ref, muted)
}

// Changed maps to the engine's dirty flag, which covers every parameter
func (c *engineChannel) Changed() (bool, error) {
	return c.sessions.IsDirty()
}

func (c *engineChannel) Release() {}
