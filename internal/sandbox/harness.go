package sandbox

import (
	"fmt"
	"strings"
)

// The harness wraps generated code with data loading and result
// serialization. User code sees a loaded DataFrame named df and must
// assign its output to result. Everything the harness produces lands in
// /work/result.json so the exit code stays zero for analysis errors.
const harnessTemplate = `import base64
import io
import json
import os
import traceback
import urllib.request

import matplotlib
matplotlib.use('Agg')
import matplotlib.pyplot as plt
import numpy as np
import pandas as pd


def _load_df():
    body = json.dumps({
        'dataset_id': os.environ['DATASET_ID'],
        'sql': 'SELECT * FROM dataset',
    }).encode()
    req = urllib.request.Request(
        os.environ['QUERY_API_URL'] + '/query',
        data=body,
        headers={
            'Content-Type': 'application/json',
            'Authorization': 'Bearer ' + os.environ['QUERY_API_TOKEN'],
        },
    )
    payload = json.load(urllib.request.urlopen(req, timeout=60))
    return pd.DataFrame(payload.get('rows') or [], columns=payload.get('columns'))


def _serialize(res, max_rows):
    if isinstance(res, pd.DataFrame):
        prev = res.head(max_rows)
        return {
            'result_type': 'table',
            'columns': [str(c) for c in prev.columns],
            'rows': json.loads(prev.to_json(orient='records')),
            'row_count': int(len(res)),
        }
    if isinstance(res, pd.Series):
        prev = res.head(max_rows)
        return {
            'result_type': 'table',
            'columns': ['index', 'value'],
            'rows': [{'index': str(i), 'value': _plain(v)} for i, v in prev.items()],
            'row_count': int(len(res)),
        }
    if isinstance(res, (int, float, np.integer, np.floating)) and not isinstance(res, bool):
        return {'result_type': 'scalar', 'scalar': float(res)}
    return {'result_type': 'narrative', 'narrative': str(res)}


def _plain(v):
    if isinstance(v, (np.integer, np.floating)):
        return v.item()
    return v


def _figures():
    visuals = []
    for num in plt.get_fignums():
        fig = plt.figure(num)
        buf = io.BytesIO()
        fig.savefig(buf, format='png', bbox_inches='tight', dpi=100)
        buf.seek(0)
        visuals.append({
            'format': 'png',
            'data': base64.b64encode(buf.read()).decode('utf-8'),
            'caption': (fig.axes[0].get_title() if fig.axes else ''),
        })
        buf.close()
    plt.close('all')
    return visuals


df = _load_df()
result = None
_out = {'status': 'SUCCESS', 'error': None}
try:
%s
except Exception as exc:
    _out['status'] = 'FAILED'
    _out['error'] = str(exc)
    _out['error_trace'] = traceback.format_exc()

if _out['status'] == 'SUCCESS':
    _out.update(_serialize(result, %d))
    _out['visualizations'] = _figures()

with open('/work/result.json', 'w') as f:
    json.dump(_out, f, default=str)
`

func (e *Executor) buildHarness(code string) string {
	return fmt.Sprintf(harnessTemplate, indent(code, "    "), e.maxPreviewRows)
}

func indent(code, prefix string) string {
	lines := strings.Split(strings.TrimRight(code, "\n"), "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			lines[i] = ""
			continue
		}
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
