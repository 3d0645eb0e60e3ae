package message

func (s *GroupStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.log)
}

// Holders returns the usernames whose sequences contain id.
func (s *DirectStore) Holders(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for user, seq := range s.logs {
		for _, m := range seq {
			if m.ID == id {
				out = append(out, user)
				break
			}
		}
	}
	return out
}
