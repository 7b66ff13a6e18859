package dispatcher

import "github.com/goliatone/go-workflow/router"

type Subscription interface {
	Unsubscribe()
}

type subs struct {
	entry router.Subscription
}

func (s *subs) Unsubscribe() {
	if s.entry != nil {
		s.entry.Unsubscribe()
	}
}
