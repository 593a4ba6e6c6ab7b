package request

// PaginationRequest represents pagination parameters
type PaginationRequest struct {
	Page  int `form:"page,default=1" binding:"min=1"`
	Limit int `form:"limit,default=20" binding:"min=1,max=100"`
}

// Offset calculates the offset for database queries
func (p *PaginationRequest) Offset() int {
	return (p.Page - 1) * p.Limit
}
