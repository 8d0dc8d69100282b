package usecase

// StylePreset is one entry of the style catalogue.
type StylePreset struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
}

// StylePresets is the closed catalogue of style-transfer presets.
var StylePresets = []StylePreset{
	{ID: "oil_painting", Name: "Oil Painting", Description: "Classic oil on canvas", Prompt: "oil painting, thick brush strokes, canvas texture"},
	{ID: "watercolor", Name: "Watercolor", Description: "Soft translucent washes", Prompt: "watercolor painting, soft edges, paper texture"},
	{ID: "anime", Name: "Anime", Description: "Japanese animation style", Prompt: "anime style, cel shading, vibrant colors"},
	{ID: "manga", Name: "Manga", Description: "Black and white comic", Prompt: "manga style, ink lines, screentone shading"},
	{ID: "sketch", Name: "Sketch", Description: "Pencil sketch", Prompt: "pencil sketch, graphite, cross hatching"},
	{ID: "pop_art", Name: "Pop Art", Description: "Bold pop-art look", Prompt: "pop art, bold colors, halftone dots"},
	{ID: "impressionist", Name: "Impressionist", Description: "Impressionist painting", Prompt: "impressionist painting, visible brushwork, natural light"},
	{ID: "cyberpunk", Name: "Cyberpunk", Description: "Neon futuristic", Prompt: "cyberpunk, neon lights, futuristic city"},
	{ID: "vintage", Name: "Vintage", Description: "Aged photograph", Prompt: "vintage photograph, faded colors, film grain"},
	{ID: "minimalist", Name: "Minimalist", Description: "Clean and simple", Prompt: "minimalist, flat colors, simple shapes"},
	{ID: "fantasy", Name: "Fantasy", Description: "Fantasy illustration", Prompt: "fantasy art, epic lighting, detailed illustration"},
	{ID: "gothic", Name: "Gothic", Description: "Dark gothic mood", Prompt: "gothic art, dark atmosphere, dramatic shadows"},
}

// ValidStyleID reports whether id is part of the catalogue.
func ValidStyleID(id string) bool {
	for _, p := range StylePresets {
		if p.ID == id {
			return true
		}
	}
	return false
}
