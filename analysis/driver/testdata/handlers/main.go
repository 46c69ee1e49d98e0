package main

type session struct {
	id   int
	peer *session
}

type request struct {
	s    *session
	data []byte
}

func HandleOpen(r *request) {
	r.s = &session{id: 1}
}

func HandleLink(r *request, other *request) {
	if r.s != nil {
		r.s.peer = other.s
	}
}

func helper(r *request) int {
	return len(r.data)
}

func main() {
	r := &request{}
	HandleOpen(r)
	HandleLink(r, &request{})
	println(helper(r))
}
