// Package viewer renders a self-contained preview page for a digitized
// exam. Question data and externalized math are embedded as JSON, MathJax
// and Tailwind load from CDNs, so the file works offline next to its media
// folder without a server.
package viewer

import (
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/examforge/digitizer/parse"
)

// FileName is the viewer file written into the job output dir.
const FileName = "viewer.html"

type pageData struct {
	Questions template.JS
	MathData  template.JS
}

// Write renders viewer.html into outDir and returns its path.
func Write(outDir string, sections []*parse.Section, mathData map[string]string) (string, error) {
	if sections == nil {
		sections = []*parse.Section{}
	}
	if mathData == nil {
		mathData = map[string]string{}
	}

	questionsJSON, err := json.Marshal(sections)
	if err != nil {
		return "", fmt.Errorf("marshal questions: %w", err)
	}
	mathJSON, err := json.Marshal(mathData)
	if err != nil {
		return "", fmt.Errorf("marshal math data: %w", err)
	}

	path := filepath.Join(outDir, FileName)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create viewer: %w", err)
	}
	defer f.Close()

	// json.Marshal escapes <, > and & so the blobs cannot break out of the
	// script element.
	err = page.Execute(f, pageData{
		Questions: template.JS(questionsJSON),
		MathData:  template.JS(mathJSON),
	})
	if err != nil {
		return "", fmt.Errorf("render viewer: %w", err)
	}
	return path, nil
}

var page = template.Must(template.New("viewer").Parse(`<!DOCTYPE html>
<html lang="vi">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Preview Đề Thi</title>
    <script src="https://polyfill.io/v3/polyfill.min.js?features=es6"></script>
    <script id="MathJax-script" async src="https://cdn.jsdelivr.net/npm/mathjax@3/es5/tex-mml-chtml.js"></script>
    <script src="https://cdn.tailwindcss.com"></script>
    <link href="https://fonts.googleapis.com/css2?family=Inter:wght@400;500;600;700&display=swap" rel="stylesheet">
    <style>
        :root {
            --primary-color: #0056b3;
            --bg-body: #f4f7f6;
            --card-bg: #ffffff;
            --text-color: #333333;
            --border-color: #e0e0e0;
        }

        body {
            font-family: 'Inter', sans-serif;
            background-color: var(--bg-body);
            color: var(--text-color);
            margin: 0;
            padding: 20px;
        }

        .container { max-width: 900px; margin: 0 auto; }

        .header {
            background-color: white;
            padding: 20px;
            border-radius: 12px;
            box-shadow: 0 2px 10px rgba(0,0,0,0.05);
            margin-bottom: 30px;
            text-align: center;
        }
        .header h1 { margin: 0; color: var(--primary-color); font-size: 1.5rem; }
        .header p { margin: 5px 0 0; color: #666; font-size: 0.9rem; }

        .loading { text-align: center; font-size: 1.2rem; color: #6b7280; margin-top: 50px; }

        .section-header {
            background-color: #e0f2fe;
            color: #0c4a6e;
            padding: 15px;
            margin: 30px 0 20px 0;
            border-radius: 8px;
            border-left: 5px solid #0284c7;
        }
        .section-header h2 { margin: 0; font-size: 1.25rem; }

        .question-card {
            background: var(--card-bg);
            border-radius: 12px;
            padding: 25px;
            margin-bottom: 20px;
            box-shadow: 0 2px 5px rgba(0,0,0,0.02);
        }
        .question-card:hover { box-shadow: 0 5px 15px rgba(0,0,0,0.08); }

        .question-header { display: flex; align-items: baseline; margin-bottom: 15px; }

        .question-number {
            font-weight: 700;
            color: var(--primary-color);
            font-size: 1.1rem;
            margin-right: 10px;
            min-width: 60px;
        }

        .question-content {
            font-size: 1rem;
            line-height: 1.6;
            color: #2c3e50;
            width: 100%;
        }
        .question-content img {
            max-width: 100%;
            border-radius: 8px;
            margin: 10px 0;
            box-shadow: 0 2px 4px rgba(0,0,0,0.1);
        }

        .options-list {
            margin-top: 20px;
            list-style: none;
            padding: 0;
            display: grid;
            grid-template-columns: 1fr;
            gap: 12px;
        }
        @media(min-width: 700px) { .options-list { grid-template-columns: 1fr 1fr; } }

        .option-item {
            display: flex;
            align-items: flex-start;
            padding: 12px 16px;
            border: 1px solid var(--border-color);
            border-radius: 8px;
            cursor: pointer;
            transition: all 0.2s ease;
            background: #fafafa;
        }
        .option-item:hover { background-color: #e3f2fd; border-color: var(--primary-color); }

        .option-key { font-weight: 700; color: var(--primary-color); margin-right: 12px; user-select: none; }
        .option-content-wrapper { flex: 1; display: flex; align-items: start; flex-direction: column; }
        .option-value { display: block; }

        .badge { display: inline-block; padding: 2px 8px; border-radius: 4px; font-size: 0.75rem; font-weight: 700; margin-bottom: 4px; }
        .badge-true { background-color: #dcfce7; color: #15803d; border: 1px solid #86efac; }
        .badge-false { background-color: #fee2e2; color: #b91c1c; border: 1px solid #fca5a5; }

        .correct-answer { background-color: #f0fdf4 !important; border-color: #86efac !important; }

        mjx-container { font-size: 110% !important; }
    </style>
</head>
<body>

<div class="container">
    <div class="header">
        <h1>Đề Thi (Preview)</h1>
        <p>File này hoạt động Offline (Không cần Server)</p>
    </div>

    <div id="content-area"></div>
</div>

<script>
    const QUESTIONS_DATA = {{.Questions}};
    const MATH_DATA = {{.MathData}};
    const MEDIA_PATH = 'media/';

    function init() {
        const contentArea = document.getElementById('content-area');
        if (!QUESTIONS_DATA || QUESTIONS_DATA.length === 0) {
            contentArea.innerHTML = '<div class="loading">Không có dữ liệu câu hỏi.</div>';
            return;
        }
        renderQuestions(QUESTIONS_DATA, contentArea);
    }

    function renderQuestions(sections, container) {
        container.innerHTML = '';
        let htmlBuffer = '';

        if (Array.isArray(sections) && sections.length > 0 && sections[0].questions) {
            for (const section of sections) {
                htmlBuffer += '<div class="section-header"><h2>' + section.name + '</h2></div>';
                for (const q of section.questions) {
                    htmlBuffer += renderSingleQuestion(q);
                }
            }
        } else {
            for (const q of sections) {
                htmlBuffer += renderSingleQuestion(q);
            }
        }

        container.innerHTML = htmlBuffer;

        if (window.MathJax) {
            MathJax.typesetPromise([container]).catch(function (err) {
                console.error('MathJax typeset error:', err);
            });
        }
    }

    function renderSingleQuestion(q) {
        const contentHtml = parseContent(q.question);
        const picture = q.picture && q.picture.indexOf('http') === 0
            ? '<img src="' + q.picture + '" loading="lazy" style="max-width: 100%; height: auto; display: block; margin: 10px auto;" />'
            : '';

        let optionsHtml = '';
        const answers = q.answers;

        if (answers && answers.length) {
            optionsHtml = '<div class="options-list">';
            for (const opt of answers) {
                const optContent = parseContent(opt.content);

                let isTrue = false;
                let isFalse = false;

                if (q.correct_answer) {
                    if (typeof q.correct_answer === 'string') {
                        if (q.correct_answer === opt.key) isTrue = true;
                    } else if (typeof q.correct_answer === 'object') {
                        const hasTrueAnswer = Object.values(q.correct_answer).some(v => v === true);
                        if (q.correct_answer[opt.key] === true) {
                            isTrue = true;
                        } else if (q.correct_answer[opt.key] === false && hasTrueAnswer) {
                            isFalse = true;
                        }
                    }
                }

                let badge = '';
                if (isTrue) {
                    badge = '<span class="badge badge-true">Đúng</span>';
                } else if (isFalse) {
                    badge = '<span class="badge badge-false">Sai</span>';
                }

                optionsHtml += '<div class="option-item ' + (isTrue ? 'correct-answer' : '') + '">' +
                    '<span class="option-key">' + opt.key + '.</span>' +
                    '<div class="option-content-wrapper">' + badge +
                    '<span class="option-value">' + optContent + '</span></div></div>';
            }
            optionsHtml += '</div>';
        }

        return '<div class="question-card"><div class="question-header">' +
            '<div class="question-number">Câu ' + q.id + '</div>' +
            '<div class="question-content">' + contentHtml + picture + '</div>' +
            '</div>' + optionsHtml + '</div>';
    }

    function parseContent(text) {
        if (!text) return '';

        text = text.replace(/\\pandocbounded\{([^}]+)\}/g, '$1');

        text = text.replace(/\\includegraphics(?:\[[^\]]*\])?\{([^}]+)\}/g, function (m, path) {
            let filename = path.replace(/^media[\\\/]/, '');
            filename = filename.replace(/\\\//g, '/');
            return '<img src="' + MEDIA_PATH + filename + '" loading="lazy" style="max-width: 100%; height: auto; display: block; margin: 10px auto;" />';
        });

        text = text.replace(/\[:\$([^$]+)\$\]/g, function (m, name) {
            const latex = MATH_DATA[name];
            if (latex) {
                if (latex.trim().startsWith('<') || latex.includes('<b>') || latex.includes('<i>')) {
                    return latex;
                }
                if (latex.trim().startsWith('$') || latex.trim().startsWith('\\(')) {
                    return latex;
                }
                return '\\( ' + latex + ' \\)';
            }
            return '[Missing: ' + name + ']';
        });

        text = text.replace(/<\/table>[\s\r\n]*/g, '</table>');
        text = text.replace(/<\/table>\s*<br\s*\/?>/gi, '</table>');
        text = text.replace(/\n/g, '<br>');

        return text;
    }

    window.addEventListener('DOMContentLoaded', init);
</script>

</body>
</html>
`))
