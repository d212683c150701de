package scene

// Rule describes what belongs in a type of scene
type Rule struct {
	Expected       []string           // Object categories that are normal here
	Forbidden      []string           // Object categories that should never appear here
	LyingAllowed   bool               // People lying down is normal here
	EmotionWeights map[string]float32 // Multipliers applied to emotion confidence, for emotions that are unremarkable here
}

// DefaultRules is the built-in scene table. Categories use COCO class names.
var DefaultRules = map[string]Rule{
	"office": {
		Expected:  []string{"person", "chair", "laptop", "tv", "cell phone", "book", "keyboard", "mouse", "desk", "tie", "suit", "cup", "bottle", "clock"},
		Forbidden: []string{"sports ball", "skateboard", "baseball bat", "bed", "toilet", "bicycle", "car", "motorcycle", "surfboard"},
		EmotionWeights: map[string]float32{
			"sad":       0.4,
			"fearful":   0.4,
			"disgusted": 0.4,
			"angry":     0.6,
		},
	},
	"home": {
		Expected:     []string{"person", "chair", "couch", "tv", "bed", "refrigerator", "microwave", "cup", "bottle", "dining table", "sink", "toilet", "remote", "potted plant"},
		Forbidden:    []string{"bus", "truck", "traffic light", "fire hydrant", "airplane"},
		LyingAllowed: true,
	},
	"bedroom": {
		Expected:     []string{"person", "bed", "chair", "tv", "laptop", "cell phone", "book", "clock", "teddy bear"},
		Forbidden:    []string{"car", "bus", "truck", "motorcycle", "airplane", "traffic light", "fire hydrant"},
		LyingAllowed: true,
	},
	"living room": {
		Expected:     []string{"person", "couch", "chair", "tv", "remote", "book", "cup", "potted plant", "dog", "cat"},
		Forbidden:    []string{"car", "bus", "truck", "airplane", "traffic light", "fire hydrant"},
		LyingAllowed: true,
	},
	"kitchen": {
		Expected:  []string{"person", "refrigerator", "microwave", "oven", "sink", "cup", "bottle", "bowl", "knife", "fork", "spoon", "dining table", "chair"},
		Forbidden: []string{"bed", "toilet", "car", "motorcycle", "bus", "truck", "airplane"},
	},
	"store": {
		Expected:  []string{"person", "bottle", "cup", "handbag", "backpack", "cell phone", "umbrella"},
		Forbidden: []string{"bed", "toilet", "car", "bus", "truck", "airplane"},
	},
	"outdoors": {
		Expected:  []string{"person", "bicycle", "car", "dog", "bird", "umbrella", "bench", "bus", "truck", "airplane", "traffic light", "motorcycle"},
		Forbidden: []string{"tv", "mouse", "keyboard", "microwave", "refrigerator", "couch", "bed", "sink"},
	},
	"street": {
		Expected:  []string{"person", "bicycle", "car", "motorcycle", "bus", "truck", "traffic light", "fire hydrant", "stop sign", "parking meter", "dog", "umbrella"},
		Forbidden: []string{"bed", "couch", "refrigerator", "microwave", "oven", "sink", "toilet", "tv"},
	},
}
