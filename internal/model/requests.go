package model

type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Role     Role   `json:"role,omitempty"`
}

type CreateBookingRequest struct {
	Title string  `json:"title"`
	Text  string  `json:"text"`
	Price float64 `json:"price"`
}

type UpdateBookingRequest struct {
	Title *string `json:"title,omitempty"`
	Text  *string `json:"text,omitempty"`
}

type ApproveRequest struct {
	PerformerID int `json:"performer_id"`
}

type CommentRequest struct {
	Text string `json:"text"`
}

type TopupRequest struct {
	Sum float64 `json:"sum"`
}
